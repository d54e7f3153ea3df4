package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Clean policies for the matrix runner
const (
	CleanOnce  = "once"
	CleanEach  = "each"
	CleanNever = "never"
)

// Fetcher kinds for registry archives
const (
	FetcherHTTP = "http"
	FetcherS3   = "s3"
)

// S3Config configures the S3-compatible object store used for registry
// archives (fetcher: s3) and for publishing snapshots.
type S3Config struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	UseSSL        bool   `yaml:"use_ssl"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublishBucket string `yaml:"publish_bucket"`
	PublishPrefix string `yaml:"publish_prefix"`
}

// Config represents the dashboard configuration
type Config struct {
	DatabasePath      string   `yaml:"database"`
	DataLog           string   `yaml:"data_log"`
	MoonHome          string   `yaml:"moon_home"`
	WorkDir           string   `yaml:"work_dir"`
	MoonBin           string   `yaml:"moon_bin"`
	MooncBin          string   `yaml:"moonc_bin"`
	GitBin            string   `yaml:"git_bin"`
	ArchiveBaseURL    string   `yaml:"archive_base_url"`
	Fetcher           string   `yaml:"fetcher"`
	S3                S3Config `yaml:"s3"`
	Clean             string   `yaml:"clean"`
	ResolvePerChannel bool     `yaml:"resolve_per_channel"`
	InstallScriptURL  string   `yaml:"install_script_url"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dbPath := filepath.Join(".moondash", "moondash.db")
	moonHome := ".moon"
	if homeDir, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(homeDir, ".moondash", "moondash.db")
		moonHome = filepath.Join(homeDir, ".moon")
	}
	return &Config{
		DatabasePath:     dbPath,
		DataLog:          filepath.Join("webapp", "public", "data.jsonl"),
		MoonHome:         moonHome,
		WorkDir:          os.TempDir(),
		MoonBin:          "moon",
		MooncBin:         "moonc",
		GitBin:           "git",
		ArchiveBaseURL:   "https://moonbitlang-mooncakes.s3.us-west-2.amazonaws.com/user",
		Fetcher:          FetcherHTTP,
		Clean:            CleanOnce,
		InstallScriptURL: "https://cli.moonbitlang.com/install/unix.sh",
		S3: S3Config{
			Endpoint: "s3.us-west-2.amazonaws.com",
			Region:   "us-west-2",
			Bucket:   "moonbitlang-mooncakes",
			Prefix:   "user",
			UseSSL:   true,
		},
	}
}

// Load loads configuration from file and environment variables
// Priority: environment variables > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := GetConfigPath()
	if err := loadFromFile(cfg, configPath); err != nil {
		// Config file is optional, so we just skip if not found
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads defaults and the config file at path, without environment
// overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if db := os.Getenv("MOONDASH_DB"); db != "" {
		cfg.DatabasePath = db
	}
	if log := os.Getenv("MOONDASH_DATA_LOG"); log != "" {
		cfg.DataLog = log
	}
	if home := os.Getenv("MOON_HOME"); home != "" {
		cfg.MoonHome = home
	}
	if dir := os.Getenv("MOONDASH_WORK_DIR"); dir != "" {
		cfg.WorkDir = dir
	}
	if base := os.Getenv("MOONDASH_ARCHIVE_BASE_URL"); base != "" {
		cfg.ArchiveBaseURL = base
	}
	if fetcher := os.Getenv("MOONDASH_FETCHER"); fetcher != "" {
		cfg.Fetcher = fetcher
	}
	if endpoint := os.Getenv("MOONDASH_S3_ENDPOINT"); endpoint != "" {
		cfg.S3.Endpoint = endpoint
	}
	if bucket := os.Getenv("MOONDASH_S3_BUCKET"); bucket != "" {
		cfg.S3.Bucket = bucket
	}
	if key := os.Getenv("MOONDASH_S3_ACCESS_KEY"); key != "" {
		cfg.S3.AccessKey = key
	}
	if secret := os.Getenv("MOONDASH_S3_SECRET_KEY"); secret != "" {
		cfg.S3.SecretKey = secret
	}
	if raw := os.Getenv("MOONDASH_S3_USE_SSL"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid MOONDASH_S3_USE_SSL %q: %w", raw, err)
		}
		cfg.S3.UseSSL = v
	}
	if raw := os.Getenv("MOONDASH_RESOLVE_PER_CHANNEL"); raw != "" {
		cfg.ResolvePerChannel = raw == "true" || raw == "1"
	}
	return nil
}

// Validate checks enumerated fields
func (cfg *Config) Validate() error {
	switch cfg.Clean {
	case CleanOnce, CleanEach, CleanNever:
	default:
		return fmt.Errorf("invalid clean policy %q (want once, each or never)", cfg.Clean)
	}
	switch cfg.Fetcher {
	case FetcherHTTP:
	case FetcherS3:
		if strings.TrimSpace(cfg.S3.Bucket) == "" {
			return fmt.Errorf("s3 fetcher requires s3.bucket")
		}
		if strings.Contains(cfg.S3.Endpoint, "://") {
			return fmt.Errorf("s3 endpoint must not include scheme: %q", cfg.S3.Endpoint)
		}
	default:
		return fmt.Errorf("invalid fetcher %q (want http or s3)", cfg.Fetcher)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Save saves the configuration to a file
func (cfg *Config) Save(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	configPath := os.Getenv("MOONDASH_CONFIG")
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(homeDir, ".moondash-config")
		} else {
			configPath = ".moondash-config"
		}
	}
	return configPath
}

// GetDatabasePath returns the database path, expanding ~/ if needed
func (cfg *Config) GetDatabasePath() string {
	return expandHome(cfg.DatabasePath)
}

// GetMoonHome returns the toolchain home, expanding ~/ if needed
func (cfg *Config) GetMoonHome() string {
	return expandHome(cfg.MoonHome)
}

// RegistryIndexDir is where `moon update` keeps the mooncakes index
func (cfg *Config) RegistryIndexDir() string {
	return filepath.Join(cfg.GetMoonHome(), "registry", "index", "user")
}

// ToolchainEnv returns the environment every toolchain process runs with
func (cfg *Config) ToolchainEnv() []string {
	home := cfg.GetMoonHome()
	return []string{
		"MOON_HOME=" + home,
		"PATH=" + filepath.Join(home, "bin") + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}

// MoonPath returns the moon binary, preferring the copy installed under moon_home
func (cfg *Config) MoonPath() string {
	return cfg.toolPath(cfg.MoonBin)
}

// MooncPath returns the moonc binary, preferring the copy installed under moon_home
func (cfg *Config) MooncPath() string {
	return cfg.toolPath(cfg.MooncBin)
}

func (cfg *Config) toolPath(bin string) string {
	if bin == "" || strings.ContainsRune(bin, filepath.Separator) {
		return bin
	}
	installed := filepath.Join(cfg.GetMoonHome(), "bin", bin)
	if info, err := os.Stat(installed); err == nil && !info.IsDir() {
		return installed
	}
	return bin
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// Get returns a top-level config value by its yaml key
func (cfg *Config) Get(key string) (string, error) {
	switch key {
	case "database":
		return cfg.DatabasePath, nil
	case "data_log":
		return cfg.DataLog, nil
	case "moon_home":
		return cfg.MoonHome, nil
	case "work_dir":
		return cfg.WorkDir, nil
	case "moon_bin":
		return cfg.MoonBin, nil
	case "moonc_bin":
		return cfg.MooncBin, nil
	case "git_bin":
		return cfg.GitBin, nil
	case "archive_base_url":
		return cfg.ArchiveBaseURL, nil
	case "fetcher":
		return cfg.Fetcher, nil
	case "clean":
		return cfg.Clean, nil
	case "resolve_per_channel":
		return strconv.FormatBool(cfg.ResolvePerChannel), nil
	case "install_script_url":
		return cfg.InstallScriptURL, nil
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// Set assigns a top-level config value by its yaml key
func (cfg *Config) Set(key, value string) error {
	switch key {
	case "database":
		cfg.DatabasePath = value
	case "data_log":
		cfg.DataLog = value
	case "moon_home":
		cfg.MoonHome = value
	case "work_dir":
		cfg.WorkDir = value
	case "moon_bin":
		cfg.MoonBin = value
	case "moonc_bin":
		cfg.MooncBin = value
	case "git_bin":
		cfg.GitBin = value
	case "archive_base_url":
		cfg.ArchiveBaseURL = value
	case "fetcher":
		cfg.Fetcher = value
	case "clean":
		cfg.Clean = value
	case "resolve_per_channel":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", value, err)
		}
		cfg.ResolvePerChannel = v
	case "install_script_url":
		cfg.InstallScriptURL = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return cfg.Validate()
}

// Keys lists the keys accepted by Get and Set
func Keys() []string {
	return []string{
		"database", "data_log", "moon_home", "work_dir", "moon_bin", "moonc_bin",
		"git_bin", "archive_base_url", "fetcher", "clean", "resolve_per_channel",
		"install_script_url",
	}
}
