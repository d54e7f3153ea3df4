// Package git wraps the git commands a dashboard run needs, timing each one
// and recording it in the history database when one is configured.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/timing"
)

// ErrInvalidRevision is returned for a revision git would parse as an option
var ErrInvalidRevision = errors.New("invalid revision")

// Context holds the execution context for git operations
type Context struct {
	DB          *database.DB
	RunID       int64
	SourceIndex int
	GitBin      string // defaults to "git"
	Logger      *slog.Logger
}

func (g *Context) bin() string {
	if g.GitBin == "" {
		return "git"
	}
	return g.GitBin
}

func (g *Context) log() *slog.Logger {
	return logging.OrDiscard(g.Logger)
}

// recordOperation records a git operation in the database
func (g *Context) recordOperation(kind, target string, result *timing.Result, hash, branch string) {
	if g.DB == nil {
		return
	}

	status := "success"
	errorMsg := ""
	if err := result.Err(); err != nil {
		status = "failed"
		errorMsg = err.Error()
	}

	co := &database.Checkout{
		RunID:       g.RunID,
		SourceIndex: g.SourceIndex,
		Target:      target,
		Kind:        kind,
		StartedAt:   result.StartedAt,
		DurationMs:  result.DurationMs,
		Status:      status,
		Error:       errorMsg,
		CommitHash:  hash,
		Branch:      branch,
	}
	if err := g.DB.CreateCheckout(co); err != nil {
		g.log().Warn("failed to record git operation", "kind", kind, "error", err)
	}
}

// Clone clones a git repository into destDir, replacing anything there
func (g *Context) Clone(ctx context.Context, url, destDir string) error {
	g.log().Debug("cloning", "url", url, "dest", destDir)

	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to remove existing directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	result := timing.Run(ctx, g.bin(), []string{"clone", url, destDir}, nil)
	g.recordOperation("clone", url, result, "", "")

	if err := result.Err(); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}

	g.log().Debug("cloned", "url", url, "elapsed_ms", result.DurationMs)
	return nil
}

// Checkout switches repoDir to rev. The recorded row carries the resulting
// short hash and branch name when they can be read.
func (g *Context) Checkout(ctx context.Context, repoDir, rev string) error {
	if rev == "" || strings.HasPrefix(rev, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidRevision, rev)
	}
	g.log().Debug("checking out", "dir", repoDir, "rev", rev)

	result := timing.Run(ctx, g.bin(), []string{"checkout", "-q", rev}, &timing.Options{Dir: repoDir})

	var hash, branch string
	if result.Success() {
		hash, _ = g.ShortHash(ctx, repoDir)
		branch, _ = g.BranchName(ctx, repoDir)
	}
	g.recordOperation("checkout", rev, result, hash, branch)

	if err := result.Err(); err != nil {
		return fmt.Errorf("git checkout %s failed: %w", rev, err)
	}
	return nil
}

// ShortHash returns the abbreviated commit hash of HEAD
func (g *Context) ShortHash(ctx context.Context, repoDir string) (string, error) {
	return g.revParse(ctx, repoDir, "--short", "HEAD")
}

// BranchName returns the current branch, or "HEAD" when detached
func (g *Context) BranchName(ctx context.Context, repoDir string) (string, error) {
	return g.revParse(ctx, repoDir, "--abbrev-ref", "HEAD")
}

func (g *Context) revParse(ctx context.Context, repoDir string, args ...string) (string, error) {
	result := timing.Run(ctx, g.bin(), append([]string{"rev-parse"}, args...), &timing.Options{Dir: repoDir})
	if err := result.Err(); err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	out, err := result.Text()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(out), nil
}
