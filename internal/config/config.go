package config

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/example/portscanner/internal/logger"
)

// ScanConfig holds the scan-tunable knobs.
type ScanConfig struct {
	StartIP         string `json:"start_ip" toml:"start_ip"`
	EndIP           string `json:"end_ip" toml:"end_ip"`
	Ports           string `json:"ports" toml:"ports"`
	TimeoutMS       int    `json:"timeout_ms" toml:"timeout_ms"`
	Concurrency     int    `json:"concurrency" toml:"concurrency"`
	Database        string `json:"database" toml:"database"`
	Verbose         bool   `json:"verbose" toml:"verbose"`
	LoopMode        bool   `json:"loop_mode" toml:"loop_mode"`
	IPv4            bool   `json:"ipv4" toml:"ipv4"`
	IPv6            bool   `json:"ipv6" toml:"ipv6"`
	OnlyStoreOpen   bool   `json:"only_store_open" toml:"only_store_open"`
	SkipPrivate     bool   `json:"skip_private" toml:"skip_private"`
	ProbeMode       string `json:"probe_mode" toml:"probe_mode"` // "connect" or "syn"
	BatchSize       int    `json:"batch_size" toml:"batch_size"`
	BatchIntervalMS int    `json:"batch_interval_ms" toml:"batch_interval_ms"`
	MaxRetries      int    `json:"max_retries" toml:"max_retries"`
}

// RateLimitConfig mirrors the limiter knobs.
type RateLimitConfig struct {
	MaxRate  int `json:"max_rate" toml:"max_rate"`
	WindowMS int `json:"window_ms" toml:"window_ms"`
}

// ServerConfig controls the optional HTTP/API surface.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" toml:"listen_addr"`
	GeoDBPath  string `json:"geo_db_path" toml:"geo_db_path"`
	NATSURL    string `json:"nats_url" toml:"nats_url"`
}

// Config is the complete scanner process configuration.
type Config struct {
	Scan      ScanConfig      `json:"scan" toml:"scan"`
	RateLimit RateLimitConfig `json:"rate_limit" toml:"rate_limit"`
	Server    ServerConfig    `json:"server" toml:"server"`
	Logging   logger.Config   `json:"logging" toml:"logging"`
}

// Default returns the defaults used by the original scanner, preserved so
// operators upgrading from a bare CLI invocation see identical behavior.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Ports:           "21,22,23,25,53,80,110,143,443,445,3306,3389,5432,6379,8080,8443,9200,27017",
			TimeoutMS:       500,
			Concurrency:     100,
			Database:        "scan_results.db",
			LoopMode:        true,
			IPv4:            true,
			IPv6:            false,
			OnlyStoreOpen:   true,
			SkipPrivate:     true,
			ProbeMode:       "connect",
			BatchSize:       1000,
			BatchIntervalMS: 5000,
			MaxRetries:      3,
		},
		RateLimit: RateLimitConfig{
			MaxRate:  10000,
			WindowMS: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Logging: logger.Config{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// Load layers defaults, environment variables (SCAN_ prefix), an optional
// file, and finally command-line flags, in increasing precedence: a file
// value overrides its environment counterpart, and a flag overrides both.
func Load(ctx context.Context, args []string, log logger.Logger) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("scanner", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to TOML config file")
	startIP := fs.String("start-ip", "", "override scan.start_ip")
	endIP := fs.String("end-ip", "", "override scan.end_ip")
	ports := fs.String("ports", "", "override scan.ports")
	concurrency := fs.Int("concurrency", 0, "override scan.concurrency")
	probeMode := fs.String("probe-mode", "", "connect or syn")
	database := fs.String("database", "", "override scan.database path")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	envLoader := NewEnvLoader(log, "SCAN_")
	if err := envLoader.Load(ctx, "", cfg); err != nil {
		return nil, err
	}

	if *configPath != "" {
		loader := &FileLoader{Logger: log}
		if err := loader.Load(ctx, *configPath, cfg); err != nil {
			return nil, err
		}
	}

	if *startIP != "" {
		cfg.Scan.StartIP = *startIP
	}

	if *endIP != "" {
		cfg.Scan.EndIP = *endIP
	}

	if *ports != "" {
		cfg.Scan.Ports = *ports
	}

	if *concurrency != 0 {
		cfg.Scan.Concurrency = *concurrency
	}

	if *probeMode != "" {
		cfg.Scan.ProbeMode = *probeMode
	}

	if *database != "" {
		cfg.Scan.Database = *database
	}

	if *verbose {
		cfg.Scan.Verbose = true
		cfg.Logging.Debug = true
	}

	return cfg, nil
}

// LoadFromOSArgs is a convenience wrapper around Load using os.Args[1:].
func LoadFromOSArgs(ctx context.Context, log logger.Logger) (*Config, error) {
	return Load(ctx, os.Args[1:], log)
}
