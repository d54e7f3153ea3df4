// Package matrix runs the check/build/test × backend matrix in one working directory.
package matrix

import (
	"context"
	"log/slog"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/timing"
)

// Executor runs one toolchain invocation in workdir
type Executor interface {
	Execute(ctx context.Context, workdir string, args []string) *timing.Result
}

// Moon executes the moon binary with the toolchain environment
type Moon struct {
	Config *config.Config
	Exec   timing.RunFunc // defaults to timing.Run
}

// Execute implements Executor
func (m *Moon) Execute(ctx context.Context, workdir string, args []string) *timing.Result {
	run := m.Exec
	if run == nil {
		run = timing.Run
	}
	return run(ctx, m.Config.MoonPath(), args, &timing.Options{
		Dir: workdir,
		Env: m.Config.ToolchainEnv(),
	})
}

// Runner produces the CBT of a working directory
type Runner struct {
	Executor Executor
	Clean    string // config.CleanOnce, CleanEach or CleanNever
	Logger   *slog.Logger
}

// Run executes every cell in matrix order and never fails: a cell that does
// not exit 0 is recorded as Failure.
func (r *Runner) Run(ctx context.Context, workdir, label string) *dashboard.CBT {
	log := logging.OrDiscard(r.Logger)
	cbt := &dashboard.CBT{}

	if r.Clean == config.CleanOnce || r.Clean == "" {
		r.clean(ctx, workdir, log)
	}

	for _, op := range dashboard.Operations {
		for _, backend := range dashboard.Backends {
			if r.Clean == config.CleanEach {
				r.clean(ctx, workdir, log)
			}
			args := op.Args(backend)
			log.Debug("RUN moon", "args", args, "source", label)
			*cbt.Get(op).Get(backend) = Cell(r.Executor.Execute(ctx, workdir, args))
			res := cbt.Cell(op, backend)
			log.Debug("cell finished", "source", label, "op", op, "backend", backend,
				"status", res.Status, "elapsed_ms", res.Elapsed)
		}
	}
	return cbt
}

func (r *Runner) clean(ctx context.Context, workdir string, log *slog.Logger) {
	if res := r.Executor.Execute(ctx, workdir, []string{"clean"}); !res.Success() {
		log.Debug("moon clean failed", "dir", workdir, "error", res.Err())
	}
}

// Cell converts a process result into a matrix cell
func Cell(res *timing.Result) dashboard.ExecuteResult {
	status := dashboard.Failure
	if res.Success() {
		status = dashboard.Success
	}
	var elapsed uint64
	if res.Started && res.DurationMs > 0 {
		elapsed = uint64(res.DurationMs)
	}
	return dashboard.ExecuteResult{
		Status:    status,
		StartTime: dashboard.FormatStartTime(res.StartedAt),
		Elapsed:   elapsed,
	}
}
