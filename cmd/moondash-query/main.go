package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

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
		fmt.Printf("moondash-query version %s\n", version)
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
	case "cells":
		handleCells(db, args[1:], debug)
	case "stats":
		handleStats(db, args[1:], debug)
	case "compare":
		handleCompare(db, args[1:], debug)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand '%s'\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

// resolveRun returns the run selected by --run, or the latest completed run
func resolveRun(db *database.DB, id int64) *database.Run {
	if id != 0 {
		run, err := db.GetRun(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: run %d not found: %v\n", id, err)
			os.Exit(1)
		}
		return run
	}
	run, err := db.LatestRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: no completed run: %v\n", err)
		os.Exit(1)
	}
	return run
}

func handleCells(db *database.DB, args []string, debug bool) {
	fs := pflag.NewFlagSet("cells", pflag.ExitOnError)
	runID := fs.Int64("run", 0, "Run ID (default: latest completed run)")
	channel := fs.String("channel", "", "Filter by channel: Stable, Bleeding")
	failedOnly := fs.Bool("failed", false, "Only show failed cells")
	fs.Parse(args)

	run := resolveRun(db, *runID)

	var channels []string
	if *channel != "" {
		channels = append(channels, *channel)
	}
	cells, err := db.ListCells(run.ID, channels...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing cells: %v\n", err)
		os.Exit(1)
	}

	if *failedOnly {
		filtered := make([]*database.Cell, 0)
		for _, c := range cells {
			if c.Status != "Success" {
				filtered = append(filtered, c)
			}
		}
		cells = filtered
	}

	if len(cells) == 0 {
		fmt.Printf("No cells found for run %d\n", run.ID)
		return
	}

	fmt.Printf("Cells for run %d:\n\n", run.ID)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Channel\tSource\tTarget\tOperation\tBackend\tStatus\tElapsed")
	fmt.Fprintln(w, "-------\t------\t------\t---------\t-------\t------\t-------")
	for _, c := range cells {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
			c.Channel, c.SourceLabel, c.Target, c.Operation, c.Backend, c.Status, c.ElapsedMs)
	}
	w.Flush()

	if debug {
		fmt.Printf("\nTotal cells: %d\n", len(cells))
	}
}

func handleStats(db *database.DB, args []string, debug bool) {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	runID := fs.Int64("run", 0, "Run ID (default: latest completed run)")
	fs.Parse(args)

	run := resolveRun(db, *runID)

	stats, err := db.CellStats(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting stats: %v\n", err)
		os.Exit(1)
	}

	if len(stats) == 0 {
		fmt.Printf("No cells recorded for run %d\n", run.ID)
		return
	}

	fmt.Printf("Statistics for run %d (%s #%s):\n\n", run.ID, run.RunID, run.RunNumber)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Channel\tOperation\tBackend\tCells\tSucceeded\tRate\tAvg Elapsed")
	fmt.Fprintln(w, "-------\t---------\t-------\t-----\t---------\t----\t-----------")
	for _, s := range stats {
		rate := 0.0
		if s.Total > 0 {
			rate = 100 * float64(s.Succeeded) / float64(s.Total)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.0f%%\t%.0fms\n",
			s.Channel, s.Operation, s.Backend, s.Total, s.Succeeded, rate, s.AvgElapsed)
	}
	w.Flush()
}

func handleCompare(db *database.DB, args []string, debug bool) {
	fs := pflag.NewFlagSet("compare", pflag.ExitOnError)
	runID := fs.Int64("run", 0, "Run ID (default: latest completed run)")
	changed := fs.Bool("changed", false, "Only show cells whose status differs between channels")
	fs.Parse(args)

	run := resolveRun(db, *runID)

	diffs, err := db.CompareChannels(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error comparing channels: %v\n", err)
		os.Exit(1)
	}

	if *changed {
		filtered := make([]*database.CellDiff, 0)
		for _, d := range diffs {
			if d.Changed() {
				filtered = append(filtered, d)
			}
		}
		diffs = filtered
	}

	if len(diffs) == 0 {
		if *changed {
			fmt.Printf("✓ Stable and Bleeding agree on every cell of run %d\n", run.ID)
		} else {
			fmt.Printf("No comparable cells for run %d\n", run.ID)
		}
		return
	}

	fmt.Printf("Stable vs Bleeding for run %d:\n\n", run.ID)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Source\tTarget\tOperation\tBackend\tStable\tBleeding\tDelta")
	fmt.Fprintln(w, "------\t------\t---------\t-------\t------\t--------\t-----")
	for _, d := range diffs {
		marker := ""
		if d.Changed() {
			marker = " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s%s\t%s\n",
			d.SourceLabel, d.Target, d.Operation, d.Backend,
			d.StableStatus, d.BleedingStatus, marker,
			formatDelta(d.BleedingElapsed-d.StableElapsed))
	}
	w.Flush()

	if debug {
		fmt.Printf("\nTotal cells: %d\n", len(diffs))
	}
}

func formatDelta(ms int64) string {
	if ms > 0 {
		return "+" + strconv.FormatInt(ms, 10) + "ms"
	}
	return strconv.FormatInt(ms, 10) + "ms"
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: moondash-query [OPTIONS] COMMAND [ARGS...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  cells     List matrix cells of a run\n")
	fmt.Fprintf(os.Stderr, "  stats     Success rate and mean elapsed per cell kind\n")
	fmt.Fprintf(os.Stderr, "  compare   Stable vs Bleeding, cell by cell\n")
}

func printHelp() {
	fmt.Printf("moondash-query - Report on recorded matrix cells\n\n")
	fmt.Printf("Version: %s\n\n", version)

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-query [OPTIONS] COMMAND [ARGS...]\n\n")

	fmt.Printf("COMMANDS:\n")
	fmt.Printf("  cells     [--run ID] [--channel Stable|Bleeding] [--failed]\n")
	fmt.Printf("  stats     [--run ID]\n")
	fmt.Printf("  compare   [--run ID] [--changed]\n\n")

	fmt.Printf("  Without --run, the latest completed run is used.\n\n")

	fmt.Printf("GLOBAL OPTIONS:\n")
	fmt.Printf("  -h, --help         Show this help message\n")
	fmt.Printf("  -V, --version      Show version\n")
	fmt.Printf("  -d, --debug        Enable debug output\n")
	fmt.Printf("  --db PATH          Path to SQLite database\n\n")

	fmt.Printf("EXAMPLES:\n")
	fmt.Printf("  # Cells that regressed on the bleeding toolchain\n")
	fmt.Printf("  moondash-query compare --changed\n\n")

	fmt.Printf("  # Failures of run 3\n")
	fmt.Printf("  moondash-query cells --run 3 --failed\n")
}
