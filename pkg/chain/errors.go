// Package chain provides go-ethereum backed clients for the upstream feed
// and pool contracts.
package chain

import "errors"

var (
	// ErrRPCURLRequired indicates that an RPC URL is required.
	ErrRPCURLRequired = errors.New("rpc url is required")
	// ErrZeroReserves indicates that the pair has no liquidity.
	ErrZeroReserves = errors.New("pair has zero reserves")
	// ErrTokenNotInPair indicates the configured base token is neither side of the pair.
	ErrTokenNotInPair = errors.New("base token is not part of the pair")
	// ErrRoundOverflow indicates a round ID outside the supported range.
	ErrRoundOverflow = errors.New("round id exceeds supported range")
)
