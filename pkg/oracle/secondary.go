package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"tc.com/twap-oracle/pkg/logging"
)

// q112 is the fixed-point one of the pool's UQ112x112 representation.
var q112 = new(big.Int).Lsh(big.NewInt(1), 112)

// two256 bounds the pool's cumulative counter, which wraps on overflow.
var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// SecondarySampler differences point-in-time cumulative-price observations
// from the AMM pair into epoch averages. It keeps at most one stored
// observation, replaced once per cycle, which serves as the left endpoint
// for the following epoch.
type SecondarySampler struct {
	pool     CumulativePool
	obs      *PoolObservation
	maxDelay uint64
	logger   *logging.Logger
}

// NewSecondarySampler creates a sampler with no stored observation; the
// first cycle only records a baseline and cannot close an epoch.
func NewSecondarySampler(pool CumulativePool, maxDelay uint64, logger *logging.Logger) *SecondarySampler {
	return &SecondarySampler{
		pool:     pool,
		maxDelay: maxDelay,
		logger:   logger,
	}
}

// Observation returns a copy of the stored observation, or nil when none
// has been recorded yet.
func (s *SecondarySampler) Observation() *PoolObservation {
	if s.obs == nil {
		return nil
	}
	o := s.obs.Clone()
	return &o
}

// Sample reads the pool's current cumulative counter and returns the average
// price since the stored observation, normalized to 18 decimals. The result
// is zero unless the stored observation falls within maxDelay after
// epochStart. The fresh read replaces the stored observation whenever it is
// recent enough relative to now, regardless of whether this epoch could be
// closed, so sampling makes progress even across failed epochs.
func (s *SecondarySampler) Sample(ctx context.Context, epochStart, now uint64) (decimal.Decimal, error) {
	cur, err := s.pool.CurrentCumulative(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read cumulative price: %w", err)
	}

	avg := decimal.Zero
	if s.usableBaseline(epochStart) && cur.Timestamp > s.obs.Timestamp {
		diff := cumulativeDelta(s.obs.PriceCumulative, cur.PriceCumulative)
		elapsed := cur.Timestamp - s.obs.Timestamp
		avg = decodeAverage(diff, elapsed, s.pool.PriceDecimalsAdjustment())
	} else if s.obs != nil {
		s.logger.Debug("Stored pool observation unusable for epoch",
			"epoch_start", epochStart,
			"observation_at", s.obs.Timestamp)
	}

	if cur.Timestamp <= now && now-cur.Timestamp <= s.maxDelay {
		obs := PoolObservation{
			PriceCumulative: new(big.Int).Set(cur.PriceCumulative),
			Timestamp:       cur.Timestamp,
		}
		s.obs = &obs
	}

	return avg, nil
}

// Spot returns the pool's instantaneous reserve-ratio price. It bypasses all
// staleness validation and must not be used for epoch commits.
func (s *SecondarySampler) Spot(ctx context.Context) (decimal.Decimal, error) {
	return s.pool.SpotPrice(ctx)
}

// usableBaseline reports whether the stored observation can open the epoch
// window starting at epochStart.
func (s *SecondarySampler) usableBaseline(epochStart uint64) bool {
	return s.obs != nil &&
		s.obs.Timestamp >= epochStart &&
		s.obs.Timestamp <= epochStart+s.maxDelay
}

// cumulativeDelta subtracts two counter readings modulo 2^256.
func cumulativeDelta(prev, cur *big.Int) *big.Int {
	diff := new(big.Int).Sub(cur, prev)
	if diff.Sign() < 0 {
		diff.Add(diff, two256)
	}
	return diff
}

// decodeAverage converts a cumulative counter delta over elapsed seconds
// from UQ112x112 into an 18-decimal price, applying the token-decimals
// adjustment fixed at pool construction.
func decodeAverage(diff *big.Int, elapsed uint64, decimalsAdjustment int32) decimal.Decimal {
	avg := new(big.Int).Quo(diff, new(big.Int).SetUint64(elapsed))

	exp := 18 + int(decimalsAdjustment)
	num := avg
	den := new(big.Int).Set(q112)
	if exp >= 0 {
		num = new(big.Int).Mul(avg, pow10(exp))
	} else {
		den.Mul(den, pow10(-exp))
	}
	num.Quo(num, den)
	return decimal.NewFromBigInt(num, -18)
}
