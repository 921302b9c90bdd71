package config

import (
	"fmt"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if err := validateOracleConfig(&cfg.Oracle); err != nil {
		return fmt.Errorf("oracle config: %w", err)
	}

	if cfg.Primary.RPCURL == "" {
		return fmt.Errorf("primary_feed config: %w", ErrRPCURLRequired)
	}
	if cfg.Primary.AggregatorAddress == "" {
		return fmt.Errorf("primary_feed config: %w", ErrAddressRequired)
	}

	if cfg.Secondary.RPCURL == "" {
		return fmt.Errorf("secondary_pool config: %w", ErrRPCURLRequired)
	}
	if cfg.Secondary.PairAddress == "" || cfg.Secondary.BaseTokenAddress == "" {
		return fmt.Errorf("secondary_pool config: %w", ErrAddressRequired)
	}

	if err := validateStoreConfig(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if cfg.AdminTokenValue() == "" {
		return fmt.Errorf("server config: %w", ErrAdminTokenRequired)
	}

	return nil
}

func validateOracleConfig(cfg *OracleConfig) error {
	epochLen := cfg.EpochLength.Seconds()
	if epochLen == 0 {
		return ErrEpochLengthRequired
	}
	if cfg.StartEpoch%epochLen != 0 {
		return fmt.Errorf("%w: %d", ErrEpochNotAligned, cfg.StartEpoch)
	}
	if cfg.MaxObservationDelay.Seconds() >= epochLen {
		return fmt.Errorf("max_observation_delay must be shorter than epoch_length")
	}
	return nil
}

func validateStoreConfig(cfg *StoreConfig) error {
	switch cfg.Backend {
	case "memory":
		return nil
	case "redis":
		if cfg.Redis.Addr == "" {
			return ErrRedisAddrRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidStoreBackend, cfg.Backend)
	}
}
