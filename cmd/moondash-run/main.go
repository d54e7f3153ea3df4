package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/database"
)

var version = "dev" // Set by -ldflags during build

func main() {
	// Define global flags
	var (
		showVersion bool
		showHelp    bool
		debug       bool
		dbPath      string
	)

	pflag.BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show this help message")
	pflag.BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	pflag.StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")

	// Stop parsing at first non-flag argument (the subcommand)
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if showVersion {
		fmt.Printf("moondash-run version %s\n", version)
		os.Exit(0)
	}

	args := pflag.Args()
	if len(args) == 0 || showHelp {
		printHelp()
		os.Exit(0)
	}

	subcommand := args[0]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	db, err := database.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch subcommand {
	case "list":
		handleList(db, args[1:], debug)
	case "show":
		handleShow(db, args[1:], debug)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand '%s'\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func handleList(db *database.DB, args []string, debug bool) {
	fs := pflag.NewFlagSet("list", pflag.ExitOnError)
	status := fs.String("status", "", "Filter by status: running, completed, failed")
	limit := fs.Int("limit", 20, "Maximum number of runs to display")

	fs.Parse(args)

	runs, err := db.ListRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		os.Exit(1)
	}

	if *status != "" {
		filtered := make([]*database.Run, 0)
		for _, run := range runs {
			if run.Status == *status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}

	if len(runs) > *limit {
		runs = runs[:*limit]
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCI Run\tNumber\tStatus\tSources\tStarted\tDuration\tNotes")
	fmt.Fprintln(w, "--\t------\t------\t------\t-------\t-------\t--------\t-----")

	for _, run := range runs {
		duration := "-"
		if run.CompletedAt != nil {
			d := run.CompletedAt.Sub(run.StartedAt)
			duration = fmt.Sprintf("%.1fs", d.Seconds())
		} else if run.Status == "running" {
			d := time.Since(run.StartedAt)
			duration = fmt.Sprintf("%.1fs*", d.Seconds())
		}

		notes := run.Notes
		if len(notes) > 30 {
			notes = notes[:27] + "..."
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			run.ID,
			run.RunID,
			run.RunNumber,
			run.Status,
			run.Sources,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			notes,
		)
	}
	w.Flush()

	if debug {
		fmt.Printf("\nTotal runs: %d\n", len(runs))
	}
}

func handleShow(db *database.DB, args []string, debug bool) {
	fs := pflag.NewFlagSet("show", pflag.ExitOnError)
	snapshot := fs.Bool("snapshot", false, "Print the stored JSON snapshot")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintf(os.Stderr, "Error: run ID required\n")
		fmt.Fprintf(os.Stderr, "Usage: moondash-run show <RUN_ID> [--snapshot]\n")
		os.Exit(1)
	}

	runID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid run ID '%s'\n", rest[0])
		os.Exit(1)
	}

	run, err := db.GetRun(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: run %d not found: %v\n", runID, err)
		os.Exit(1)
	}

	if *snapshot {
		if run.Snapshot == "" {
			fmt.Fprintf(os.Stderr, "Error: run %d has no snapshot (status %s)\n", runID, run.Status)
			os.Exit(1)
		}
		fmt.Println(run.Snapshot)
		return
	}

	fmt.Printf("Run %d:\n", run.ID)
	fmt.Printf("  Key:          %s\n", run.RunKey)
	fmt.Printf("  CI Run:       %s #%s\n", run.RunID, run.RunNumber)
	fmt.Printf("  Status:       %s\n", run.Status)
	fmt.Printf("  Sources:      %d\n", run.Sources)
	fmt.Printf("  Started:      %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))

	if run.CompletedAt != nil {
		fmt.Printf("  Completed:    %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
		duration := run.CompletedAt.Sub(run.StartedAt)
		fmt.Printf("  Duration:     %.2fs\n", duration.Seconds())
	}

	if run.Notes != "" {
		fmt.Printf("  Notes:        %s\n", run.Notes)
	}

	toolchains, err := db.ListToolchains(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing toolchains: %v\n", err)
		os.Exit(1)
	}
	if len(toolchains) > 0 {
		fmt.Printf("\nToolchains:\n")
		for _, tc := range toolchains {
			fmt.Printf("  %-9s moon %s, moonc %s\n", tc.Label, tc.MoonVersion, tc.MooncVersion)
		}
	}

	checkouts, err := db.ListCheckouts(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing checkouts: %v\n", err)
		os.Exit(1)
	}
	failed := 0
	for _, co := range checkouts {
		if co.Status != "success" {
			failed++
		}
	}
	fmt.Printf("\nCheckouts:    %d (%d failed)\n", len(checkouts), failed)

	if debug {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nSource\tTarget\tKind\tStatus\tDuration\tCommit\tError")
		for _, co := range checkouts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dms\t%s\t%s\n",
				co.SourceIndex, co.Target, co.Kind, co.Status, co.DurationMs, co.CommitHash, co.Error)
		}
		w.Flush()
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: moondash-run [OPTIONS] COMMAND [ARGS...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  list      List recorded runs\n")
	fmt.Fprintf(os.Stderr, "  show      Show details of a run\n")
}

func printHelp() {
	fmt.Printf("moondash-run - Inspect recorded dashboard runs\n\n")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Printf("DESCRIPTION:\n")
	fmt.Printf("  Lists and shows the runs moondash-stat and moondash-import recorded in\n")
	fmt.Printf("  the history database.\n\n")

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-run [OPTIONS] COMMAND [ARGS...]\n\n")

	fmt.Printf("COMMANDS:\n")
	fmt.Printf("  list      List runs, newest first\n")
	fmt.Printf("  show      Show toolchains and checkouts of a run\n\n")

	fmt.Printf("GLOBAL OPTIONS:\n")
	fmt.Printf("  -h, --help         Show this help message\n")
	fmt.Printf("  -V, --version      Show version\n")
	fmt.Printf("  -d, --debug        Enable debug output\n")
	fmt.Printf("  --db PATH          Path to SQLite database\n\n")

	fmt.Printf("EXAMPLES:\n")
	fmt.Printf("  # List failed runs\n")
	fmt.Printf("  moondash-run list --status failed\n\n")

	fmt.Printf("  # Show run 5 with every checkout\n")
	fmt.Printf("  moondash-run --debug show 5\n\n")

	fmt.Printf("  # Print the snapshot line of run 5\n")
	fmt.Printf("  moondash-run show 5 --snapshot\n")
}
