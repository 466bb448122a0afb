// Package config loads engine configuration from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	Store       StoreConfig       `toml:"store"`
	Engine      EngineConfig      `toml:"engine"`
	Reliability ReliabilityConfig `toml:"reliability"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mongo.
	Driver string `toml:"driver"`
	// DSN is the driver-specific connection string. Unused for memory.
	DSN string `toml:"dsn"`
	// Database is the database name, for the mongo driver.
	Database string `toml:"database"`
}

// EngineConfig tunes the engine's background workers and defaults.
type EngineConfig struct {
	SweepInterval     Duration `toml:"sweep_interval"`
	AuditInterval     Duration `toml:"audit_interval"`
	AuditThreshold    int64    `toml:"audit_threshold"`
	DefaultSessionTTL Duration `toml:"default_session_ttl"`
}

// ReliabilityConfig tunes the execution runner.
type ReliabilityConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	PollInterval     Duration `toml:"poll_interval"`
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	InitialBackoff   Duration `toml:"initial_backoff"`
	MaxBackoff       Duration `toml:"max_backoff"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "memory",
		},
		Engine: EngineConfig{
			SweepInterval:     Duration(30 * time.Second),
			AuditInterval:     Duration(time.Hour),
			AuditThreshold:    0,
			DefaultSessionTTL: Duration(15 * time.Minute),
		},
		Reliability: ReliabilityConfig{
			MaxRetries:       5,
			PollInterval:     Duration(time.Second),
			FailureThreshold: 3,
			SuccessThreshold: 2,
			InitialBackoff:   Duration(time.Second),
			MaxBackoff:       Duration(5 * time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values that cannot be wired.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "mongo":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("config: store driver %q requires a dsn", c.Store.Driver)
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep_interval must be positive")
	}
	if c.Engine.DefaultSessionTTL <= 0 {
		return fmt.Errorf("config: default_session_ttl must be positive")
	}
	return nil
}
