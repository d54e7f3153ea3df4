// Package engine drives a complete dashboard run: both toolchain channels,
// every source and every target, folded into one snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mslinn/moon_dashboard/pkg/checkout"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/source"
)

// Toolchain prepares a channel and reports its versions
type Toolchain interface {
	Setup(ctx context.Context, label dashboard.ToolChainLabel, skipInstall, skipUpdate bool) (dashboard.ToolChainVersion, error)
}

// Matrix builds one working directory
type Matrix interface {
	Run(ctx context.Context, workdir, label string) *dashboard.CBT
}

// ResolveFunc produces the source list of a run
type ResolveFunc func() (source.List, error)

// Observer is told about progress as it happens. A nil cbt in TargetFinished
// means the checkout failed with err.
type Observer interface {
	ChannelReady(version dashboard.ToolChainVersion)
	SourceStarted(label dashboard.ToolChainLabel, src source.Source)
	TargetFinished(label dashboard.ToolChainLabel, src source.Source, targetIndex int, target string, cbt *dashboard.CBT, err error)
}

// Options are the per-run switches
type Options struct {
	SkipInstall       bool
	SkipUpdate        bool
	ResolvePerChannel bool
	RunID             string
	RunNumber         string
}

// Engine wires the run together
type Engine struct {
	Toolchain   Toolchain
	Resolve     ResolveFunc
	Provisioner checkout.Provisioner
	Matrix      Matrix
	Observer    Observer // optional
	Logger      *slog.Logger
	Options     Options

	now func() time.Time
}

// Validate checks that every required component is set
func (e *Engine) Validate() error {
	switch {
	case e.Toolchain == nil:
		return errors.New("engine: toolchain is required")
	case e.Resolve == nil:
		return errors.New("engine: resolver is required")
	case e.Provisioner == nil:
		return errors.New("engine: provisioner is required")
	case e.Matrix == nil:
		return errors.New("engine: matrix runner is required")
	}
	return nil
}

func (e *Engine) log() *slog.Logger {
	return logging.OrDiscard(e.Logger)
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Run executes the stable channel then the bleeding channel and returns the
// snapshot. Sources are resolved after the stable toolchain is set up, since
// `moon update` is what fetches the registry index. Any error means no snapshot.
func (e *Engine) Run(ctx context.Context) (*dashboard.MoonBuildDashboard, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	started := e.clock()

	stableVersion, err := e.SetupChannel(ctx, dashboard.Stable)
	if err != nil {
		return nil, err
	}
	sources, err := e.resolve()
	if err != nil {
		return nil, err
	}
	stableData, err := e.BuildChannel(ctx, dashboard.Stable, sources)
	if err != nil {
		return nil, err
	}

	bleedingVersion, err := e.SetupChannel(ctx, dashboard.Bleeding)
	if err != nil {
		return nil, err
	}
	if e.Options.ResolvePerChannel {
		again, err := e.resolve()
		if err != nil {
			return nil, err
		}
		if len(again) != len(sources) {
			return nil, fmt.Errorf("source list changed between channels: %d then %d sources", len(sources), len(again))
		}
		sources = again
	}
	bleedingData, err := e.BuildChannel(ctx, dashboard.Bleeding, sources)
	if err != nil {
		return nil, err
	}

	d := &dashboard.MoonBuildDashboard{
		RunID:                    e.Options.RunID,
		RunNumber:                e.Options.RunNumber,
		StartTime:                started.Format(time.RFC3339),
		Sources:                  sources,
		StableToolchainVersion:   stableVersion,
		StableReleaseData:        stableData,
		BleedingToolchainVersion: bleedingVersion,
		BleedingReleaseData:      bleedingData,
	}
	if d.RunID == "" {
		d.RunID = "0"
	}
	if d.RunNumber == "" {
		d.RunNumber = "0"
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("inconsistent snapshot: %w", err)
	}
	return d, nil
}

func (e *Engine) resolve() (source.List, error) {
	sources, err := e.Resolve()
	if err != nil {
		return nil, err
	}
	e.log().Info("resolved sources", "count", len(sources))
	return sources, nil
}

// RunChannel prepares one toolchain channel and builds every source with it.
// A failed checkout becomes a nil entry; toolchain and clone failures abort.
func (e *Engine) RunChannel(ctx context.Context, label dashboard.ToolChainLabel, sources source.List) (dashboard.ToolChainVersion, []dashboard.BuildState, error) {
	version, err := e.SetupChannel(ctx, label)
	if err != nil {
		return dashboard.ToolChainVersion{}, nil, err
	}
	data, err := e.BuildChannel(ctx, label, sources)
	if err != nil {
		return dashboard.ToolChainVersion{}, nil, err
	}
	return version, data, nil
}

// SetupChannel installs and updates the channel and captures its versions
func (e *Engine) SetupChannel(ctx context.Context, label dashboard.ToolChainLabel) (dashboard.ToolChainVersion, error) {
	version, err := e.Toolchain.Setup(ctx, label, e.Options.SkipInstall, e.Options.SkipUpdate)
	if err != nil {
		return dashboard.ToolChainVersion{}, err
	}
	e.log().Info("toolchain ready", "channel", label, "moon", version.MoonVersion, "moonc", version.MooncVersion)
	if e.Observer != nil {
		e.Observer.ChannelReady(version)
	}
	return version, nil
}

// BuildChannel builds every source with the toolchain already set up for label
func (e *Engine) BuildChannel(ctx context.Context, label dashboard.ToolChainLabel, sources source.List) ([]dashboard.BuildState, error) {
	data := make([]dashboard.BuildState, 0, len(sources))
	for _, src := range sources {
		bs, err := e.buildSource(ctx, label, src)
		if err != nil {
			return nil, err
		}
		data = append(data, bs)
	}
	return data, nil
}

func (e *Engine) buildSource(ctx context.Context, label dashboard.ToolChainLabel, src source.Source) (dashboard.BuildState, error) {
	log := e.log().With("channel", label, "source", src.Label())
	if e.Observer != nil {
		e.Observer.SourceStarted(label, src)
	}

	sess, err := e.Provisioner.Provision(ctx, src)
	if err != nil {
		return dashboard.BuildState{}, fmt.Errorf("source %d (%s): %w", src.Index(), src.Label(), err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to remove scratch dir", "error", err)
		}
	}()

	targets := sess.Targets()
	bs := dashboard.BuildState{Source: src.Index(), CBTs: make([]*dashboard.CBT, 0, len(targets))}
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return dashboard.BuildState{}, err
		}

		workdir, err := sess.Checkout(ctx, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return dashboard.BuildState{}, ctxErr
			}
			log.Warn("checkout failed", "target", target, "error", err)
			bs.CBTs = append(bs.CBTs, nil)
			if e.Observer != nil {
				e.Observer.TargetFinished(label, src, i, target, nil, err)
			}
			continue
		}

		cbt := e.Matrix.Run(ctx, workdir, src.Label())
		ok, failed := cbt.Counts()
		log.Info("target built", "target", target, "ok", ok, "failed", failed)
		bs.CBTs = append(bs.CBTs, cbt)
		if e.Observer != nil {
			e.Observer.TargetFinished(label, src, i, target, cbt, nil)
		}
	}
	return bs, nil
}

// RunIdentityFromEnv reads the CI run id and number, defaulting both to "0"
func RunIdentityFromEnv() (runID, runNumber string) {
	runID = os.Getenv("GITHUB_ACTION_RUN_ID")
	if runID == "" {
		runID = "0"
	}
	runNumber = os.Getenv("GITHUB_ACTION_RUN_NUMBER")
	if runNumber == "" {
		runNumber = "0"
	}
	return runID, runNumber
}
