package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mslinn/moon_dashboard/pkg/config"
)

var version = "dev" // Set by -ldflags during build

// Environment variables that override config file values
var envOverrides = []struct {
	name string
	key  string
}{
	{"MOONDASH_DB", "database"},
	{"MOONDASH_DATA_LOG", "data_log"},
	{"MOON_HOME", "moon_home"},
	{"MOONDASH_WORK_DIR", "work_dir"},
	{"MOONDASH_ARCHIVE_BASE_URL", "archive_base_url"},
	{"MOONDASH_FETCHER", "fetcher"},
	{"MOONDASH_S3_ENDPOINT", "s3.endpoint"},
	{"MOONDASH_S3_BUCKET", "s3.bucket"},
	{"MOONDASH_S3_ACCESS_KEY", "s3.access_key"},
	{"MOONDASH_S3_SECRET_KEY", "s3.secret_key"},
	{"MOONDASH_S3_USE_SSL", "s3.use_ssl"},
	{"MOONDASH_RESOLVE_PER_CHANNEL", "resolve_per_channel"},
}

func main() {
	var (
		showVersion bool
		showHelp    bool
		configPath  string
	)

	pflag.BoolVarP(&showVersion, "version", "V", false, "Show version and exit")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show this help message")
	pflag.StringVar(&configPath, "config", "", "Path to config file (default: ~/.moondash-config)")

	pflag.Parse()

	if showVersion {
		fmt.Printf("moondash-config version %s\n", version)
		os.Exit(0)
	}

	if showHelp {
		printHelp()
		os.Exit(0)
	}

	args := pflag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Error: subcommand required\n\n")
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]

	if configPath != "" {
		os.Setenv("MOONDASH_CONFIG", configPath)
	}

	switch subcommand {
	case "init":
		handleInit(args[1:])
	case "set":
		handleSet(args[1:])
	case "get":
		handleGet(args[1:])
	case "show":
		handleShow()
	case "path":
		handlePath()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand '%s'\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func handleInit(args []string) {
	var force bool
	flags := pflag.NewFlagSet("init", pflag.ExitOnError)
	flags.BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	flags.Parse(args)

	configPath := config.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: config file already exists at %s\n", configPath)
		fmt.Fprintf(os.Stderr, "Use --force to overwrite\n")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Created config file at %s\n", configPath)
	fmt.Println("\nDefault configuration:")
	fmt.Printf("  database:  %s\n", cfg.DatabasePath)
	fmt.Printf("  data_log:  %s\n", cfg.DataLog)
	fmt.Printf("  moon_home: %s\n", cfg.MoonHome)
	fmt.Printf("  fetcher:   %s\n", cfg.Fetcher)
	fmt.Println("\nEdit the file or use 'moondash-config set' to customize.")
}

func handleSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: 'set' requires KEY and VALUE arguments\n\n")
		fmt.Fprintf(os.Stderr, "Usage: moondash-config set KEY VALUE\n")
		fmt.Fprintf(os.Stderr, "\nValid keys: %s\n", strings.Join(config.Keys(), ", "))
		os.Exit(1)
	}

	key := args[0]
	value := args[1]
	configPath := config.GetConfigPath()

	// Environment overrides must not leak into the file
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Try running 'moondash-config init' first\n")
		os.Exit(1)
	}

	if err := cfg.Set(key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Valid keys: %s\n", strings.Join(config.Keys(), ", "))
		os.Exit(1)
	}

	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Set %s = %v\n", key, value)
}

func handleGet(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: 'get' requires KEY argument\n\n")
		fmt.Fprintf(os.Stderr, "Usage: moondash-config get KEY\n")
		fmt.Fprintf(os.Stderr, "\nValid keys: %s\n", strings.Join(config.Keys(), ", "))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	value, err := cfg.Get(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Valid keys: %s\n", strings.Join(config.Keys(), ", "))
		os.Exit(1)
	}
	fmt.Println(value)
}

func handleShow() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Secrets stay out of the terminal
	shown := *cfg
	if shown.S3.SecretKey != "" {
		shown.S3.SecretKey = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to render config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration from: %s\n\n", config.GetConfigPath())
	fmt.Print(string(data))

	fmt.Println("\nEnvironment variable overrides:")
	for _, env := range envOverrides {
		if value := os.Getenv(env.name); value != "" {
			if strings.Contains(env.name, "SECRET") {
				value = "********"
			}
			fmt.Printf("  %s=%s (overrides %s)\n", env.name, value, env.key)
		}
	}
}

func handlePath() {
	fmt.Println(config.GetConfigPath())
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: moondash-config [OPTIONS] SUBCOMMAND\n\n")
	fmt.Fprintf(os.Stderr, "Manage moondash configuration\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  init          Create default config file\n")
	fmt.Fprintf(os.Stderr, "  set KEY VAL   Set configuration value\n")
	fmt.Fprintf(os.Stderr, "  get KEY       Get configuration value\n")
	fmt.Fprintf(os.Stderr, "  show          Show all configuration\n")
	fmt.Fprintf(os.Stderr, "  path          Show config file path\n\n")
	pflag.PrintDefaults()
}

func printHelp() {
	fmt.Printf("moondash-config - Manage moondash configuration\n\n")
	fmt.Printf("Version: %s\n\n", version)

	fmt.Printf("DESCRIPTION:\n")
	fmt.Printf("  Manages configuration for the moondash commands. Configuration is stored in\n")
	fmt.Printf("  ~/.moondash-config by default and can be overridden with environment variables.\n\n")

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash-config [OPTIONS] SUBCOMMAND\n\n")

	fmt.Printf("SUBCOMMANDS:\n")
	fmt.Printf("  init          Create default configuration file\n")
	fmt.Printf("  set KEY VAL   Set a configuration value\n")
	fmt.Printf("  get KEY       Get a configuration value\n")
	fmt.Printf("  show          Display all configuration values\n")
	fmt.Printf("  path          Show the config file path\n\n")

	fmt.Printf("CONFIGURATION KEYS:\n")
	fmt.Printf("  database             Path to the SQLite history database\n")
	fmt.Printf("  data_log             JSON-Lines file every run appends to\n")
	fmt.Printf("  moon_home            Toolchain home (MOON_HOME), holds bin/ and the registry index\n")
	fmt.Printf("  work_dir             Where scratch checkouts are created\n")
	fmt.Printf("  moon_bin, moonc_bin  Toolchain binaries, looked up in moon_home/bin first\n")
	fmt.Printf("  git_bin              git binary\n")
	fmt.Printf("  archive_base_url     Registry archive root for the http fetcher\n")
	fmt.Printf("  fetcher              http or s3\n")
	fmt.Printf("  clean                once, each or never: when 'moon clean' runs\n")
	fmt.Printf("  resolve_per_channel  Resolve 'latest' again before the bleeding channel\n")
	fmt.Printf("  install_script_url   Toolchain installer\n")
	fmt.Printf("  s3.*                 Object store settings (edit the file)\n\n")

	fmt.Printf("ENVIRONMENT VARIABLES:\n")
	fmt.Printf("  MOONDASH_CONFIG    Path to config file\n")
	for _, env := range envOverrides {
		fmt.Printf("  %-28s Override %s\n", env.name, env.key)
	}

	fmt.Printf("\nOPTIONS:\n")
	pflag.PrintDefaults()

	fmt.Printf("\nEXAMPLES:\n")
	fmt.Printf("  # Create default config\n")
	fmt.Printf("  moondash-config init\n\n")

	fmt.Printf("  # Clean before every matrix cell\n")
	fmt.Printf("  moondash-config set clean each\n\n")

	fmt.Printf("  # Read archives through the S3 API\n")
	fmt.Printf("  moondash-config set fetcher s3\n\n")

	fmt.Printf("  # Get specific value\n")
	fmt.Printf("  moondash-config get database\n")
}
