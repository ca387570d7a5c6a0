// Package server provides the embedding HTTP surface for the workflow
// engine: workflow CRUD, validation, execution, execution inspection, and
// Prometheus metrics.
package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-backed server configuration.
//
// Example:
//
//	addr: ":8080"
//	store:
//	  driver: sqlite
//	  dsn: fluxline.db
//	engine:
//	  node_timeout: 30s
//	  max_concurrent: 8
//	metrics: true
type Config struct {
	// Addr is the listen address. Default ":8080".
	Addr string `yaml:"addr"`

	// Store selects the persistence backend.
	Store StoreConfig `yaml:"store"`

	// Engine tunes execution defaults.
	Engine EngineConfig `yaml:"engine"`

	// Metrics enables the Prometheus /metrics endpoint. Default true.
	Metrics bool `yaml:"metrics"`
}

// StoreConfig selects and configures the execution store.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "mysql". Default "memory".
	Driver string `yaml:"driver"`

	// DSN is the database location: a file path for sqlite, a connection
	// string for mysql. Ignored by memory.
	DSN string `yaml:"dsn"`
}

// EngineConfig tunes execution defaults.
type EngineConfig struct {
	// NodeTimeout is the default per-attempt timeout. Default 30s.
	NodeTimeout time.Duration `yaml:"node_timeout"`

	// MaxConcurrent caps parallel-layer concurrency. Default 8.
	MaxConcurrent int `yaml:"max_concurrent"`

	// RetryBaseDelay is the base for exponential retry backoff. Zero means
	// immediate retries.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RetryMaxDelay caps retry backoff growth. Zero means no cap.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() Config {
	return Config{
		Addr:    ":8080",
		Store:   StoreConfig{Driver: "memory"},
		Engine:  EngineConfig{NodeTimeout: 30 * time.Second, MaxConcurrent: 8},
		Metrics: true,
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for fields
// the file leaves unset. An empty path skips the file and uses defaults
// only. Environment overrides (FLUXLINE_ADDR, FLUXLINE_STORE_DRIVER,
// FLUXLINE_STORE_DSN) are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FLUXLINE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("FLUXLINE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("FLUXLINE_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %q requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent cannot be negative")
	}
	return nil
}
