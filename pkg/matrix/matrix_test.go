package matrix

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/timing"
)

// recorder is an Executor that logs calls and fails the ones listed
type recorder struct {
	calls []string
	fail  map[string]int
}

func (r *recorder) Execute(ctx context.Context, workdir string, args []string) *timing.Result {
	key := strings.Join(args, " ")
	r.calls = append(r.calls, key)
	res := &timing.Result{Command: "moon", Args: args, StartedAt: time.Now(), Started: true, DurationMs: 7}
	if code, ok := r.fail[key]; ok {
		res.ExitCode = code
		res.Error = errors.New("exit status")
	}
	return res
}

func TestRun_Order(t *testing.T) {
	rec := &recorder{}
	r := &Runner{Executor: rec, Clean: config.CleanOnce}
	r.Run(context.Background(), "/work", "x")

	assert.Equal(t, []string{
		"clean",
		"check -q --target wasm",
		"check -q --target wasm-gc",
		"check -q --target js",
		"build -q --target wasm",
		"build -q --target wasm-gc",
		"build -q --target js",
		"test -q --build-only --target wasm",
		"test -q --build-only --target wasm-gc",
		"test -q --build-only --target js",
	}, rec.calls)
}

func TestRun_CleanPolicies(t *testing.T) {
	count := func(calls []string) int {
		n := 0
		for _, c := range calls {
			if c == "clean" {
				n++
			}
		}
		return n
	}

	tests := []struct {
		policy string
		want   int
	}{
		{config.CleanOnce, 1},
		{"", 1},
		{config.CleanEach, 9},
		{config.CleanNever, 0},
	}
	for _, tt := range tests {
		rec := &recorder{}
		(&Runner{Executor: rec, Clean: tt.policy}).Run(context.Background(), "/work", "x")
		assert.Equal(t, tt.want, count(rec.calls), "policy %q", tt.policy)
		assert.Len(t, rec.calls, 9+tt.want)
	}
}

func TestRun_FailuresAreCells(t *testing.T) {
	rec := &recorder{fail: map[string]int{
		"clean":                  1,
		"build -q --target js":   2,
		"check -q --target wasm": 101,
	}}
	cbt := (&Runner{Executor: rec}).Run(context.Background(), "/work", "x")
	require.NotNil(t, cbt)

	ok, failed := cbt.Counts()
	assert.Equal(t, 7, ok)
	assert.Equal(t, 2, failed)
	assert.Equal(t, dashboard.Failure, cbt.Build.JS.Status)
	assert.Equal(t, dashboard.Failure, cbt.Check.Wasm.Status)
	assert.Equal(t, dashboard.Success, cbt.Test.WasmGC.Status)
	assert.Equal(t, uint64(7), cbt.Build.JS.Elapsed, "failed cells keep the measured time")
}

func TestCell(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ok := Cell(&timing.Result{StartedAt: start, Started: true, DurationMs: 120})
	assert.Equal(t, dashboard.ExecuteResult{Status: dashboard.Success, StartTime: "2025-01-01 08:00:00.000", Elapsed: 120}, ok)

	neverRan := Cell(&timing.Result{StartedAt: start, DurationMs: 0, ExitCode: -1, Error: errors.New("not found")})
	assert.Equal(t, dashboard.Failure, neverRan.Status)
	assert.Zero(t, neverRan.Elapsed)

	nonZero := Cell(&timing.Result{StartedAt: start, Started: true, DurationMs: 5, ExitCode: 3, Error: errors.New("exit status 3")})
	assert.Equal(t, dashboard.Failure, nonZero.Status)
	assert.Equal(t, uint64(5), nonZero.Elapsed)
}

func TestMoon_Execute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MoonHome = t.TempDir()

	var gotCmd, gotDir string
	var gotEnv []string
	m := &Moon{Config: cfg, Exec: func(ctx context.Context, command string, args []string, opts *timing.Options) *timing.Result {
		gotCmd, gotDir, gotEnv = command, opts.Dir, opts.Env
		return &timing.Result{Started: true}
	}}
	m.Execute(context.Background(), "/work", []string{"check"})

	assert.Equal(t, "moon", gotCmd)
	assert.Equal(t, "/work", gotDir)
	assert.Contains(t, gotEnv, "MOON_HOME="+cfg.MoonHome)
}
