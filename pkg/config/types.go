package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Primary   PrimaryConfig   `yaml:"primary_feed"`
	Secondary SecondaryConfig `yaml:"secondary_pool"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OracleConfig configures the epoch aggregation core
type OracleConfig struct {
	Symbol              string   `yaml:"symbol"`                // Pair symbol, informational (e.g. "TOKEN/USD")
	EpochLength         Duration `yaml:"epoch_length"`          // Epoch window length (default: 30m)
	MaxObservationDelay Duration `yaml:"max_observation_delay"` // Staleness bound for secondary observations (default: 5m)
	MinPrimaryRounds    int      `yaml:"min_primary_rounds"`    // Minimum feed rounds inside an epoch (default: 10)
	MaxRoundsPerCycle   int      `yaml:"max_rounds_per_cycle"`  // Iteration bound per update cycle (default: 100)
	StartEpoch          uint64   `yaml:"start_epoch"`           // First epoch boundary to process (unix seconds, epoch-aligned)
	StartRound          uint64   `yaml:"start_round"`           // Primary feed round to resume from at startup
}

// PrimaryConfig configures the primary round feed client
type PrimaryConfig struct {
	RPCURL            string `yaml:"rpc_url"`
	AggregatorAddress string `yaml:"aggregator_address"`
}

// SecondaryConfig configures the AMM pair client
type SecondaryConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	PairAddress      string `yaml:"pair_address"`
	BaseTokenAddress string `yaml:"base_token_address"` // Token whose price is tracked
}

// StoreConfig configures price record persistence
type StoreConfig struct {
	Backend string      `yaml:"backend"` // "memory" (default) or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis-backed price store
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ServerConfig configures the API server and update runner
type ServerConfig struct {
	HTTP           HTTPConfig `yaml:"http"`
	WebSocket      WSConfig   `yaml:"websocket"`
	AdminToken     string     `yaml:"admin_token"`     // Bearer token for admin endpoints (or use AdminTokenEnv)
	AdminTokenEnv  string     `yaml:"admin_token_env"` // Environment variable holding the admin token
	UpdateInterval Duration   `yaml:"update_interval"` // How often the runner checks for a due epoch (default: 30s)
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// WSConfig configures the WebSocket streaming server
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// ToDuration converts to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration in whole seconds
func (d Duration) Seconds() uint64 {
	return uint64(time.Duration(d) / time.Second)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
