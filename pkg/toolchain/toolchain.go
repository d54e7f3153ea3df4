// Package toolchain installs, refreshes and identifies a moon toolchain channel.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/download"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/timing"
)

// ErrToolchain wraps every install, update and version failure. It aborts the run.
var ErrToolchain = errors.New("toolchain error")

// Manager drives the toolchain binaries of one moon_home
type Manager struct {
	Config *config.Config
	Exec   timing.RunFunc // defaults to timing.Run
	Logger *slog.Logger

	// Output receives installer and update output. Nil discards it.
	Output io.Writer

	// Download fetches the install script. Nil options use the defaults.
	Download *download.Options
}

// New returns a manager using the real process runner
func New(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{Config: cfg, Exec: timing.Run, Logger: logger}
}

func (m *Manager) exec(ctx context.Context, command string, args []string, dir string) *timing.Result {
	run := m.Exec
	if run == nil {
		run = timing.Run
	}
	return run(ctx, command, args, &timing.Options{
		Dir:         dir,
		Env:         m.Config.ToolchainEnv(),
		Passthrough: m.Output,
	})
}

func (m *Manager) log() *slog.Logger {
	return logging.OrDiscard(m.Logger)
}

// Install runs the official installer for the channel into moon_home
func (m *Manager) Install(ctx context.Context, label dashboard.ToolChainLabel) error {
	tmp, err := os.MkdirTemp(m.Config.WorkDir, "moondash-install-")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp dir: %w", ErrToolchain, err)
	}
	defer os.RemoveAll(tmp)

	script := filepath.Join(tmp, "install.sh")
	if _, err := download.DownloadFile(ctx, m.Config.InstallScriptURL, script, m.Download); err != nil {
		return fmt.Errorf("%w: failed to fetch installer: %w", ErrToolchain, err)
	}

	args := []string{script}
	if label == dashboard.Bleeding {
		args = append(args, "bleeding")
	}
	m.log().Info("installing toolchain", "channel", label, "moon_home", m.Config.GetMoonHome())
	result := m.exec(ctx, "bash", args, "")
	if err := result.Err(); err != nil {
		return fmt.Errorf("%w: install %s: %w", ErrToolchain, label, err)
	}
	m.log().Debug("installed toolchain", "channel", label, "elapsed_ms", result.DurationMs)
	return nil
}

// Update refreshes the local registry index with `moon update`
func (m *Manager) Update(ctx context.Context) error {
	result := m.exec(ctx, m.Config.MoonPath(), []string{"update"}, "")
	if err := result.Err(); err != nil {
		return fmt.Errorf("%w: moon update: %w", ErrToolchain, err)
	}
	m.log().Debug("updated registry index", "elapsed_ms", result.DurationMs)
	return nil
}

// Version captures `moon version` and `moonc -v`
func (m *Manager) Version(ctx context.Context, label dashboard.ToolChainLabel) (dashboard.ToolChainVersion, error) {
	moon, err := m.capture(ctx, m.Config.MoonPath(), "version")
	if err != nil {
		return dashboard.ToolChainVersion{}, err
	}
	moonc, err := m.capture(ctx, m.Config.MooncPath(), "-v")
	if err != nil {
		return dashboard.ToolChainVersion{}, err
	}
	return dashboard.ToolChainVersion{Label: label, MoonVersion: moon, MooncVersion: moonc}, nil
}

func (m *Manager) capture(ctx context.Context, bin string, args ...string) (string, error) {
	result := m.exec(ctx, bin, args, "")
	if err := result.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolchain, err)
	}
	out, err := result.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %s %v: %w", ErrToolchain, bin, args, err)
	}
	return out, nil
}

// Setup prepares a channel: install, update, then version capture
func (m *Manager) Setup(ctx context.Context, label dashboard.ToolChainLabel, skipInstall, skipUpdate bool) (dashboard.ToolChainVersion, error) {
	if !skipInstall {
		if err := m.Install(ctx, label); err != nil {
			return dashboard.ToolChainVersion{}, err
		}
	}
	if !skipUpdate {
		if err := m.Update(ctx); err != nil {
			return dashboard.ToolChainVersion{}, err
		}
	}
	return m.Version(ctx, label)
}
