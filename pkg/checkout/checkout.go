// Package checkout materializes the targets of a source into working
// directories the toolchain can build.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mslinn/moon_dashboard/pkg/checksum"
	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/download"
	"github.com/mslinn/moon_dashboard/pkg/git"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/source"
)

var (
	// ErrClone means a git source could not be cloned at all. It aborts the run.
	ErrClone = errors.New("clone failed")
	// ErrCheckout means one target could not be materialized. Only that target is skipped.
	ErrCheckout = errors.New("checkout failed")
)

// Session owns the scratch directory of one source
type Session interface {
	// Targets lists the targets to build, never empty
	Targets() []string
	// Checkout prepares target and returns the directory to build in
	Checkout(ctx context.Context, target string) (string, error)
	// Close removes the scratch directory
	Close() error
}

// Provisioner opens a Session per source
type Provisioner interface {
	Provision(ctx context.Context, src source.Source) (Session, error)
}

// Workspace provisions sources below WorkDir
type Workspace struct {
	WorkDir string
	GitBin  string
	Fetcher download.Fetcher
	DB      *database.DB // optional, records every clone, checkout and download
	RunID   int64
	Logger  *slog.Logger
}

// Provision implements Provisioner
func (w *Workspace) Provision(ctx context.Context, src source.Source) (Session, error) {
	if w.WorkDir != "" {
		if err := os.MkdirAll(w.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(w.WorkDir, "moondash-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	var sess Session
	switch s := src.(type) {
	case *source.GitSource:
		sess, err = w.openGit(ctx, dir, s)
	case *source.RegistrySource:
		sess, err = w.openRegistry(dir, s)
	default:
		err = fmt.Errorf("unknown source type %T", src)
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return sess, nil
}

func (w *Workspace) log() *slog.Logger {
	return logging.OrDiscard(w.Logger)
}

type gitSession struct {
	dir     string
	repo    string
	targets []string
	git     *git.Context
	initial string // branch or commit the clone started on
	moved   bool
}

func (w *Workspace) openGit(ctx context.Context, dir string, src *source.GitSource) (Session, error) {
	g := &git.Context{
		DB:          w.DB,
		RunID:       w.RunID,
		SourceIndex: src.Index(),
		GitBin:      w.GitBin,
		Logger:      w.Logger,
	}
	repo := filepath.Join(dir, "test")
	if err := g.Clone(ctx, src.URL, repo); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrClone, src.URL, err)
	}

	initial, err := g.BranchName(ctx, repo)
	if err != nil || initial == source.HeadRevision {
		initial, _ = g.ShortHash(ctx, repo)
	}

	return &gitSession{
		dir:     dir,
		repo:    repo,
		targets: source.EffectiveTargets(src),
		git:     g,
		initial: initial,
	}, nil
}

func (s *gitSession) Targets() []string { return s.targets }

// Checkout moves the clone to rev. HEAD means the state the clone started in.
func (s *gitSession) Checkout(ctx context.Context, rev string) (string, error) {
	if rev == source.HeadRevision || rev == "" {
		if !s.moved || s.initial == "" {
			return s.repo, nil
		}
		rev = s.initial
	}
	if strings.HasPrefix(rev, "-") {
		return "", fmt.Errorf("%w: invalid revision %q", ErrCheckout, rev)
	}
	if err := s.git.Checkout(ctx, s.repo, rev); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrCheckout, rev, err)
	}
	s.moved = true
	return s.repo, nil
}

func (s *gitSession) Close() error {
	return os.RemoveAll(s.dir)
}

type registrySession struct {
	ws      *Workspace
	dir     string
	src     *source.RegistrySource
	targets []string
}

func (w *Workspace) openRegistry(dir string, src *source.RegistrySource) (Session, error) {
	if w.Fetcher == nil {
		return nil, errors.New("no archive fetcher configured")
	}
	return &registrySession{ws: w, dir: dir, src: src, targets: source.EffectiveTargets(src)}, nil
}

func (s *registrySession) Targets() []string { return s.targets }

// Checkout downloads {name}/{version}.zip and unpacks it into its own directory
func (s *registrySession) Checkout(ctx context.Context, version string) (string, error) {
	if version == "" || version == "." || version == ".." || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("%w: invalid version %q", ErrCheckout, version)
	}

	archive := filepath.Join(s.dir, version+".zip")
	dst := filepath.Join(s.dir, version)

	started := time.Now()
	err := s.ws.Fetcher.Fetch(ctx, s.src.Name, version, archive)
	var sum *checksum.FileChecksum
	if err == nil {
		sum, err = checksum.ComputeFile(archive)
	}
	s.record("download", version, started, sum, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s@%s: %w", ErrCheckout, s.src.Name, version, err)
	}
	s.ws.log().Debug("downloaded archive", "source", s.src.Name, "target", version,
		"crc32", sum.Hex(), "size", checksum.FormatSize(sum.SizeBytes))

	started = time.Now()
	err = download.Unzip(archive, dst)
	var tree *checksum.FileChecksum
	if err == nil {
		tree, err = checksum.ComputeTree(dst)
	}
	s.record("unpack", version, started, tree, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s@%s: %w", ErrCheckout, s.src.Name, version, err)
	}

	return dst, nil
}

func (s *registrySession) record(kind, version string, started time.Time, sum *checksum.FileChecksum, err error) {
	if s.ws.DB == nil {
		return
	}
	co := &database.Checkout{
		RunID:       s.ws.RunID,
		SourceIndex: s.src.Index(),
		Target:      version,
		Kind:        kind,
		StartedAt:   started,
		DurationMs:  time.Since(started).Milliseconds(),
		Status:      "success",
	}
	if err != nil {
		co.Status = "failed"
		co.Error = err.Error()
	}
	if sum != nil {
		co.CRC32 = sum.Hex()
		size := sum.SizeBytes
		co.SizeBytes = &size
	}
	if rerr := s.ws.DB.CreateCheckout(co); rerr != nil {
		s.ws.log().Warn("failed to record checkout", "kind", kind, "error", rerr)
	}
}

func (s *registrySession) Close() error {
	return os.RemoveAll(s.dir)
}
