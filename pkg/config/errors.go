package config

import "errors"

var (
	// ErrEpochLengthRequired indicates that epoch_length must be positive.
	ErrEpochLengthRequired = errors.New("epoch_length must be positive")
	// ErrEpochNotAligned indicates that start_epoch is not epoch-aligned.
	ErrEpochNotAligned = errors.New("start_epoch is not aligned to epoch_length")
	// ErrRPCURLRequired indicates that an rpc_url is missing.
	ErrRPCURLRequired = errors.New("rpc_url is required")
	// ErrAddressRequired indicates that a contract address is missing.
	ErrAddressRequired = errors.New("contract address is required")
	// ErrInvalidStoreBackend indicates an unknown store backend.
	ErrInvalidStoreBackend = errors.New("store backend must be 'memory' or 'redis'")
	// ErrRedisAddrRequired indicates that redis.addr is missing.
	ErrRedisAddrRequired = errors.New("redis addr is required")
	// ErrAdminTokenRequired indicates that no admin token is configured.
	ErrAdminTokenRequired = errors.New("admin token is required")
)
