package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mslinn/moon_dashboard/pkg/config"
	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/logging"
	"github.com/mslinn/moon_dashboard/pkg/server"
)

var version = "dev" // Set by -ldflags during build

func main() {
	var (
		showVersion bool
		showHelp    bool
		debug       bool
		addr        string
		dbPath      string
		dataLog     string
		noDB        bool
	)

	pflag.BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show this help message")
	pflag.BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	pflag.StringVar(&addr, "addr", ":8080", "Listen address")
	pflag.StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
	pflag.StringVar(&dataLog, "data-log", "", "JSON-Lines data log to serve (default from config)")
	pflag.BoolVar(&noDB, "no-db", false, "Serve the data log only, without the /api/runs endpoints")

	pflag.Parse()

	if showVersion {
		fmt.Printf("moondash-serve version %s\n", version)
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
	if dataLog == "" {
		dataLog = cfg.DataLog
	}

	logger := logging.New(debug, os.Stderr)

	var db *database.DB
	if !noDB {
		db, err = database.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	srv := server.New(addr, dataLog, db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	}
}

func printHelp() {
	fmt.Printf("moondash-serve - Serve the dashboard data over HTTP\n\n")
	fmt.Printf("Version: %s\n\n", version)

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-serve [OPTIONS]\n\n")

	fmt.Printf("ENDPOINTS:\n")
	fmt.Printf("  GET /healthz                   Liveness\n")
	fmt.Printf("  GET /data.jsonl                The raw data log\n")
	fmt.Printf("  GET /api/latest                Summary of the newest snapshot\n")
	fmt.Printf("  GET /api/snapshots?limit=N     Summaries of the newest snapshots\n")
	fmt.Printf("  GET /ws/latest                 WebSocket feed, pushed when the log grows\n")
	fmt.Printf("  GET /api/runs                  Recorded runs\n")
	fmt.Printf("  GET /api/runs/{id}             One run with its toolchains\n")
	fmt.Printf("  GET /api/runs/{id}/cells       Matrix cells (?channel=Stable|Bleeding)\n")
	fmt.Printf("  GET /api/runs/{id}/stats       Per cell kind statistics\n")
	fmt.Printf("  GET /api/runs/{id}/compare     Stable vs Bleeding (?changed=true)\n")
	fmt.Printf("  GET /api/runs/{id}/checkouts   Timed clones, checkouts and downloads\n\n")

	fmt.Printf("OPTIONS:\n")
	pflag.PrintDefaults()
}
