// Package config provides configuration loading and validation for the TWAP oracle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	// Read config file
	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in YAML
	expanded := os.ExpandEnv(string(data))

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Oracle defaults
	if cfg.Oracle.EpochLength.ToDuration() == 0 {
		cfg.Oracle.EpochLength = Duration(30 * time.Minute)
	}
	if cfg.Oracle.MaxObservationDelay.ToDuration() == 0 {
		cfg.Oracle.MaxObservationDelay = Duration(5 * time.Minute)
	}
	if cfg.Oracle.MinPrimaryRounds == 0 {
		cfg.Oracle.MinPrimaryRounds = 10
	}
	if cfg.Oracle.MaxRoundsPerCycle == 0 {
		cfg.Oracle.MaxRoundsPerCycle = 100
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = "twap"
	}

	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.UpdateInterval.ToDuration() == 0 {
		cfg.Server.UpdateInterval = Duration(30 * time.Second)
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// AdminTokenValue resolves the admin token, preferring the environment
// variable when one is configured.
func (c *Config) AdminTokenValue() string {
	if c.Server.AdminTokenEnv != "" {
		if v := os.Getenv(c.Server.AdminTokenEnv); v != "" {
			return v
		}
	}
	return c.Server.AdminToken
}
