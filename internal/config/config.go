// Package config loads server settings from an optional YAML file with
// environment variable overrides. Environment always wins, so container
// deployments can skip the file entirely.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseURL is the Postgres connection string. Empty means run
	// on in-memory stores (development only; nothing survives restart).
	DatabaseURL string `yaml:"database_url"`

	// RedisAddr enables the Redis session backend when set.
	RedisAddr string `yaml:"redis_addr"`

	// SessionTTL is the fixed lifetime of a login session.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		SessionTTL: 24 * time.Hour,
	}
}

// Load reads the YAML file at path if it exists, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env overrides.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("config: session_ttl must be positive, got %s", cfg.SessionTTL)
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionTTL = d
		}
	}
}
