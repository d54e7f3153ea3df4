package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mslinn/moon_dashboard/pkg/checkout"
	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/download"
	"github.com/mslinn/moon_dashboard/pkg/engine"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/matrix"
	"github.com/mslinn/moon_dashboard/pkg/registry"
	"github.com/mslinn/moon_dashboard/pkg/source"
	"github.com/mslinn/moon_dashboard/pkg/toolchain"
)

var version = "dev" // Set by -ldflags during build

func main() {
	var (
		showVersion bool
		showHelp    bool
		debug       bool
		repoURL     string
		file        string
		skipInstall bool
		skipUpdate  bool
		dryRun      bool
		noDB        bool
		dbPath      string
		dataLog     string
	)

	pflag.BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show this help message")
	pflag.BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	pflag.StringVar(&repoURL, "repo-url", "", "Git repository to build at HEAD")
	pflag.StringVar(&file, "file", "", "Source list file")
	pflag.BoolVar(&skipInstall, "skip-install", false, "Use the installed toolchains as they are")
	pflag.BoolVar(&skipUpdate, "skip-update", false, "Do not run 'moon update' before each channel")
	pflag.BoolVar(&dryRun, "dry-run", false, "Print the sources that would be built and exit")
	pflag.BoolVar(&noDB, "no-db", false, "Do not record the run in the history database")
	pflag.StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
	pflag.StringVar(&dataLog, "data-log", "", "JSON-Lines file to append the snapshot to (default from config)")

	pflag.Parse()

	if showVersion {
		fmt.Printf("moondash-stat version %s\n", version)
		os.Exit(0)
	}

	if showHelp {
		printHelp()
		os.Exit(0)
	}

	if repoURL == "" && file == "" {
		fmt.Fprintf(os.Stderr, "Error: --repo-url or --file is required\n\n")
		printUsage()
		os.Exit(1)
	}

	if dryRun {
		printPlan(repoURL, file)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}
	if dataLog == "" {
		dataLog = cfg.DataLog
	}

	logger := logging.New(debug, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, runOptions{
		repoURL:     repoURL,
		file:        file,
		skipInstall: skipInstall,
		skipUpdate:  skipUpdate,
		noDB:        noDB,
		dbPath:      dbPath,
		dataLog:     dataLog,
		debug:       debug,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	repoURL     string
	file        string
	skipInstall bool
	skipUpdate  bool
	noDB        bool
	dbPath      string
	dataLog     string
	debug       bool
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runOptions) error {
	runID, runNumber := engine.RunIdentityFromEnv()

	var (
		db     *database.DB
		record *database.Run
	)
	if !opts.noDB {
		var err error
		db, err = database.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		record = &database.Run{RunID: runID, RunNumber: runNumber, StartedAt: time.Now()}
		if err := db.CreateRun(record); err != nil {
			return err
		}
		logger.Info("recording run", "id", record.ID, "key", record.RunKey)
	}

	fetcher, err := download.NewFetcher(cfg, &download.Options{Logger: logger})
	if err != nil {
		return failRun(db, record, err)
	}

	tc := toolchain.New(cfg, logger)
	if opts.debug {
		tc.Output = os.Stderr
	}

	workspace := &checkout.Workspace{
		WorkDir: cfg.WorkDir,
		GitBin:  cfg.GitBin,
		Fetcher: fetcher,
		Logger:  logger,
	}

	index := &lazyIndex{dir: cfg.RegistryIndexDir()}
	eng := &engine.Engine{
		Toolchain: tc,
		Resolve: func() (source.List, error) {
			// The engine resolves after each channel's `moon update`, so drop any
			// index loaded from before that update
			index.reset()
			return source.Resolve(opts.repoURL, opts.file, index)
		},
		Provisioner: workspace,
		Matrix: &matrix.Runner{
			Executor: &matrix.Moon{Config: cfg},
			Clean:    cfg.Clean,
			Logger:   logger,
		},
		Logger: logger,
		Options: engine.Options{
			SkipInstall:       opts.skipInstall,
			SkipUpdate:        opts.skipUpdate,
			ResolvePerChannel: cfg.ResolvePerChannel,
			RunID:             runID,
			RunNumber:         runNumber,
		},
	}

	var recorder *database.Recorder
	if db != nil {
		workspace.DB = db
		workspace.RunID = record.ID
		recorder = database.NewRecorder(db, record.ID)
		eng.Observer = recorder
	}

	d, err := eng.Run(ctx)
	if err != nil {
		return failRun(db, record, err)
	}

	line, err := d.Marshal()
	if err != nil {
		return failRun(db, record, err)
	}
	if err := dashboard.AppendLog(opts.dataLog, d); err != nil {
		return failRun(db, record, err)
	}
	logger.Info("snapshot appended", "path", opts.dataLog, "bytes", len(line))

	if db != nil {
		if err := recorder.Err(); err != nil {
			logger.Warn("history is incomplete", "error", err)
		}
		now := time.Now()
		record.CompletedAt = &now
		record.Status = "completed"
		record.Sources = len(d.Sources)
		record.Snapshot = string(line)
		if err := db.UpdateRun(record); err != nil {
			logger.Warn("failed to complete run record", "error", err)
		}
	}

	publisher, err := download.NewPublisher(cfg.S3)
	if err != nil {
		logger.Warn("snapshot not published", "error", err)
	} else if publisher != nil {
		if err := publisher.Publish(ctx, d.RunID, d.RunNumber, line); err != nil {
			logger.Warn("snapshot not published", "error", err)
		} else {
			logger.Info("snapshot published", "bucket", publisher.Bucket, "key", publisher.SnapshotKey(d.RunID, d.RunNumber))
		}
	}

	printSummary(d)
	return nil
}

// failRun marks the run record failed and returns err
func failRun(db *database.DB, record *database.Run, err error) error {
	if db == nil || record == nil {
		return err
	}
	now := time.Now()
	record.CompletedAt = &now
	record.Status = "failed"
	record.Notes = err.Error()
	if uerr := db.UpdateRun(record); uerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to mark run %d failed: %v\n", record.ID, uerr)
	}
	return err
}

// lazyIndex loads the registry index on the first lookup, so runs without
// registry sources never touch it. Only the engine's goroutine uses it.
type lazyIndex struct {
	dir string
	idx *registry.Index
}

func (l *lazyIndex) reset() {
	l.idx = nil
}

func (l *lazyIndex) LatestVersion(name string) (string, error) {
	if l.idx == nil {
		idx, err := registry.Load(l.dir)
		if err != nil {
			return "", err
		}
		l.idx = idx
	}
	return l.idx.LatestVersion(name)
}

func printPlan(repoURL, file string) {
	// An untyped nil keeps "latest" selectors unresolved
	sources, err := source.Resolve(repoURL, file, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sources (%d):\n", len(sources))
	for _, src := range sources {
		kind := "registry"
		if _, ok := src.(*source.GitSource); ok {
			kind = "git"
		}
		fmt.Printf("  [%d] %-8s %s\n", src.Index(), kind, src.Label())
		for _, target := range source.EffectiveTargets(src) {
			fmt.Printf("        %s\n", target)
		}
	}
	fmt.Printf("\nEach target is built with: ")
	for i, op := range dashboard.Operations {
		if i > 0 {
			fmt.Printf(", ")
		}
		fmt.Printf("%s", op)
	}
	fmt.Printf(" on %d backends, for the Stable and Bleeding channels\n", len(dashboard.Backends))
}

func printSummary(d *dashboard.MoonBuildDashboard) {
	s := d.Summary()
	fmt.Printf("Run %s #%s started %s, %d sources\n", s.RunID, s.RunNumber, s.StartTime, s.Sources)
	for _, ch := range []dashboard.ChannelSummary{s.Stable, s.Bleeding} {
		fmt.Printf("  %-9s moon %s, moonc %s: %d ok, %d failed, %d missing\n",
			ch.Label, ch.MoonVersion, ch.MooncVersion, ch.Succeeded, ch.Failed, ch.Missing)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: moondash-stat [OPTIONS]\n\n")
	pflag.PrintDefaults()
}

func printHelp() {
	fmt.Printf("moondash-stat - Build every source on both toolchain channels\n\n")
	fmt.Printf("Version: %s\n\n", version)

	fmt.Printf("DESCRIPTION:\n")
	fmt.Printf("  Installs the stable toolchain, runs moon check, build and test on the\n")
	fmt.Printf("  wasm, wasm-gc and js backends for every target of every source, then\n")
	fmt.Printf("  repeats with the bleeding toolchain. One JSON line describing the run is\n")
	fmt.Printf("  appended to the data log and the run is recorded in the history database.\n\n")

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-stat [OPTIONS]\n\n")

	fmt.Printf("SOURCE LIST FORMAT:\n")
	fmt.Printf("  # comment\n")
	fmt.Printf("  https://github.com/moonbitlang/core  HEAD 1a2b3c4\n")
	fmt.Printf("  moonbitlang/x  latest 0.4.10\n\n")

	fmt.Printf("OPTIONS:\n")
	pflag.PrintDefaults()

	fmt.Printf("\nENVIRONMENT:\n")
	fmt.Printf("  GITHUB_ACTION_RUN_ID       Run id written to the snapshot (default 0)\n")
	fmt.Printf("  GITHUB_ACTION_RUN_NUMBER   Run number written to the snapshot (default 0)\n\n")

	fmt.Printf("EXAMPLES:\n")
	fmt.Printf("  # Build the core library at HEAD\n")
	fmt.Printf("  moondash-stat --repo-url https://github.com/moonbitlang/core\n\n")

	fmt.Printf("  # Show what a source list expands to\n")
	fmt.Printf("  moondash-stat --file repos.txt --dry-run\n\n")

	fmt.Printf("  # Reuse the installed toolchains\n")
	fmt.Printf("  moondash-stat --file repos.txt --skip-install --skip-update\n")
}
