// Package oracle implements the dual-source epoch TWAP core: a primary
// round-feed reader, a secondary cumulative-price sampler, and the
// aggregator that reconciles them into one committed price per epoch.
package oracle

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Source identifies which estimator produced a committed price.
type Source string

const (
	// SourceNone marks an epoch slot with no committed price.
	SourceNone Source = ""
	// SourcePrimary marks a price produced from the push-based round feed.
	SourcePrimary Source = "primary"
	// SourceSecondary marks a price produced from the AMM cumulative counter.
	SourceSecondary Source = "secondary"
	// SourceManual marks an operator-submitted price.
	SourceManual Source = "manual"
)

// SkipReason explains why an epoch was decided without a price.
type SkipReason string

const (
	// SkipMissingData means neither feed produced a usable average.
	SkipMissingData SkipReason = "missing_data"
	// SkipDeviation means the two feeds disagreed beyond tolerance.
	SkipDeviation SkipReason = "deviation"
)

// Round is a single update from the primary feed. Answers carry the feed's
// native number of decimals; UpdatedAt is unix seconds and is zero for
// rounds the feed has not populated yet.
type Round struct {
	ID        uint64
	Answer    *big.Int
	UpdatedAt uint64
}

// RoundFeed is the upstream push-based price feed. Round IDs are monotonic
// and continuous within a phase; a populated round never changes.
type RoundFeed interface {
	// LatestRound returns the most recent populated round.
	LatestRound(ctx context.Context) (Round, error)

	// Round returns the round with the given ID. Returns an error wrapping
	// ErrRoundNotAvailable for rounds the feed has not populated.
	Round(ctx context.Context, id uint64) (Round, error)

	// Decimals returns the feed's answer precision.
	Decimals() uint8
}

// PoolSample is a point-in-time read of the pair's cumulative price counter
// for the tracked token. The counter is a UQ112x112 price integrated over
// seconds and wraps modulo 2^256.
type PoolSample struct {
	PriceCumulative *big.Int
	Timestamp       uint64
}

// CumulativePool is the upstream AMM pair. Token metadata is resolved once
// at construction and fixes which side's price is tracked and how it is
// rescaled to 18 decimals.
type CumulativePool interface {
	// CurrentCumulative returns the tracked cumulative price counter
	// extrapolated to the current block timestamp.
	CurrentCumulative(ctx context.Context) (PoolSample, error)

	// SpotPrice returns the instantaneous price from pool reserves,
	// normalized to the tracked token. Informational only.
	SpotPrice(ctx context.Context) (decimal.Decimal, error)

	// PriceDecimalsAdjustment returns the power of ten (may be negative)
	// that converts the raw reserve ratio into a human price, derived from
	// the two tokens' decimal places.
	PriceDecimalsAdjustment() int32
}

// EpochStatus is the decision recorded for an epoch.
type EpochStatus string

const (
	// EpochCommitted means a price was written for the epoch.
	EpochCommitted EpochStatus = "committed"
	// EpochSkipped means the epoch was permanently decided without a price.
	EpochSkipped EpochStatus = "skipped"
)

// EpochResult is published to subscribers after every epoch decision.
type EpochResult struct {
	Epoch  uint64          `json:"epoch"`
	Status EpochStatus     `json:"status"`
	Price  decimal.Decimal `json:"price"`
	Source Source          `json:"source,omitempty"`
	Reason SkipReason      `json:"reason,omitempty"`
}

// AlignEpoch rounds ts down to the nearest epoch boundary.
func AlignEpoch(ts, epochLength uint64) uint64 {
	return ts - ts%epochLength
}

// IsEpochAligned reports whether ts falls exactly on an epoch boundary.
func IsEpochAligned(ts, epochLength uint64) bool {
	return ts%epochLength == 0
}
