package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/database"
)

var version = "dev" // Set by -ldflags during build

func main() {
	// Define flags
	var (
		showVersion bool
		showHelp    bool
		debug       bool
		dbPath      string
		stdinMode   bool
	)

	pflag.BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show this help message")
	pflag.BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	pflag.StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
	pflag.BoolVar(&stdinMode, "stdin", false, "Read JSON Lines from stdin instead of a file")

	pflag.Parse()

	if showVersion {
		fmt.Printf("moondash-import version %s\n", version)
		os.Exit(0)
	}

	if showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	if debug {
		fmt.Printf("Database: %s\n", dbPath)
	}

	// Default to the configured data log
	var input io.Reader
	if stdinMode {
		if debug {
			fmt.Println("Reading JSON Lines from stdin...")
		}
		input = os.Stdin
	} else {
		path := cfg.DataLog
		if len(pflag.Args()) > 0 {
			path = pflag.Args()[0]
		}
		if debug {
			fmt.Printf("Reading JSON Lines from file: %s\n", path)
		}
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", path, err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	}

	db, err := database.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	imported, skipped := 0, 0
	err = dashboard.ScanLog(input, func(lineNo int, d *dashboard.MoonBuildDashboard, line []byte) error {
		run, err := db.ImportDashboard(d, line)
		if errors.Is(err, database.ErrAlreadyImported) {
			skipped++
			if debug {
				fmt.Printf("  line %d: already imported as run %d\n", lineNo, run.ID)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		imported++
		if debug {
			fmt.Printf("  line %d: run %s #%s imported as run %d\n", lineNo, d.RunID, d.RunNumber, run.ID)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
		fmt.Fprintf(os.Stderr, "Imported %d snapshots before the error\n", imported)
		os.Exit(1)
	}

	fmt.Printf("✓ Imported %d snapshots (%d already present)\n", imported, skipped)
}

func printHelp() {
	fmt.Printf("moondash-import - Import a dashboard data log into the history database\n\n")
	fmt.Printf("Version: %s\n\n", version)

	fmt.Printf("DESCRIPTION:\n")
	fmt.Printf("  Reads snapshots written by moondash-stat, one JSON object per line, and\n")
	fmt.Printf("  records each as a completed run with its toolchains and matrix cells.\n")
	fmt.Printf("  A line that was imported before is skipped, so the same log can be\n")
	fmt.Printf("  imported again after new runs were appended.\n\n")

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-import [OPTIONS] [FILE]\n\n")
	fmt.Printf("  FILE defaults to the data_log setting.\n\n")

	fmt.Printf("OPTIONS:\n")
	pflag.PrintDefaults()

	fmt.Printf("\nEXAMPLES:\n")
	fmt.Printf("  # Import the configured data log\n")
	fmt.Printf("  moondash-import\n\n")

	fmt.Printf("  # Import a downloaded log into a scratch database\n")
	fmt.Printf("  moondash-import --db /tmp/history.db data.jsonl\n\n")

	fmt.Printf("  # Import from stdin\n")
	fmt.Printf("  curl -s https://example.org/data.jsonl | moondash-import --stdin\n")
}
