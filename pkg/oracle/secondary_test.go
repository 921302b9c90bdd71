package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/twap-oracle/pkg/logging"
)

// fakePool is an in-memory CumulativePool serving queued samples.
type fakePool struct {
	samples []PoolSample
	spot    decimal.Decimal
	adjust  int32
	err     error
}

func (p *fakePool) CurrentCumulative(_ context.Context) (PoolSample, error) {
	if p.err != nil {
		return PoolSample{}, p.err
	}
	if len(p.samples) == 0 {
		panic("fakePool: no samples queued")
	}
	s := p.samples[0]
	if len(p.samples) > 1 {
		p.samples = p.samples[1:]
	}
	return PoolSample{PriceCumulative: new(big.Int).Set(s.PriceCumulative), Timestamp: s.Timestamp}, nil
}

func (p *fakePool) SpotPrice(_ context.Context) (decimal.Decimal, error) {
	return p.spot, nil
}

func (p *fakePool) PriceDecimalsAdjustment() int32 { return p.adjust }

// cumulativeAt builds a UQ112x112 counter value equal to price integrated
// over seconds since zero.
func cumulativeAt(priceUnits int64, seconds uint64) *big.Int {
	v := new(big.Int).Lsh(big.NewInt(priceUnits), 112)
	return v.Mul(v, new(big.Int).SetUint64(seconds))
}

func TestSecondarySampler_FirstCycleOnlyRecordsBaseline(t *testing.T) {
	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: cumulativeAt(3, 1850), Timestamp: 1850},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	avg, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)
	assert.True(t, avg.IsZero())

	obs := sampler.Observation()
	require.NotNil(t, obs)
	assert.Equal(t, uint64(1850), obs.Timestamp)
}

func TestSecondarySampler_AverageOverInterval(t *testing.T) {
	// Counter grows at 3/sec between 1850 and 3650: average price is 3.
	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: cumulativeAt(3, 1850), Timestamp: 1850},
		{PriceCumulative: cumulativeAt(3, 3650), Timestamp: 3650},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	avg, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)
	require.True(t, avg.IsZero())

	avg, err = sampler.Sample(context.Background(), 1800, 3660)
	require.NoError(t, err)
	assert.True(t, avg.Equal(decimal.NewFromInt(3)), "got %s", avg.String())

	// The fresh read became the new baseline.
	obs := sampler.Observation()
	require.NotNil(t, obs)
	assert.Equal(t, uint64(3650), obs.Timestamp)
}

func TestSecondarySampler_StaleBaselineYieldsZero(t *testing.T) {
	// Baseline at 1850 opens the window starting 1800, not one starting 3600.
	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: cumulativeAt(3, 1850), Timestamp: 1850},
		{PriceCumulative: cumulativeAt(3, 5450), Timestamp: 5450},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	_, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)

	avg, err := sampler.Sample(context.Background(), 5400, 5460)
	require.NoError(t, err)
	assert.True(t, avg.IsZero())
}

func TestSecondarySampler_BaselineBeyondDelayBound(t *testing.T) {
	// Observation 301s after epoch start exceeds the 300s bound.
	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: cumulativeAt(3, 2101), Timestamp: 2101},
		{PriceCumulative: cumulativeAt(3, 3650), Timestamp: 3650},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	_, err := sampler.Sample(context.Background(), 1800, 2110)
	require.NoError(t, err)

	// Baseline timestamp 2101 is outside [1800, 2100].
	avg, err := sampler.Sample(context.Background(), 1800, 3660)
	require.NoError(t, err)
	assert.True(t, avg.IsZero())
}

func TestSecondarySampler_LaggingPoolDoesNotReplaceBaseline(t *testing.T) {
	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: cumulativeAt(3, 1850), Timestamp: 1850},
		// Pool timestamp lags the cycle's wall clock beyond the delay bound.
		{PriceCumulative: cumulativeAt(3, 3000), Timestamp: 3000},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	_, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)

	_, err = sampler.Sample(context.Background(), 3600, 3660)
	require.NoError(t, err)

	obs := sampler.Observation()
	require.NotNil(t, obs)
	assert.Equal(t, uint64(1850), obs.Timestamp, "stale read must not become the baseline")
}

func TestSecondarySampler_DecimalsAdjustment(t *testing.T) {
	// Tracked raw ratio 3e10 with adjustment -10 is a human price of 3.
	raw := new(big.Int).Lsh(big.NewInt(3), 112)
	raw.Mul(raw, big.NewInt(10_000_000_000))

	start := new(big.Int).Mul(raw, big.NewInt(1850))
	end := new(big.Int).Mul(raw, big.NewInt(3650))

	pool := &fakePool{
		adjust: -10,
		samples: []PoolSample{
			{PriceCumulative: start, Timestamp: 1850},
			{PriceCumulative: end, Timestamp: 3650},
		},
	}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	_, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)

	avg, err := sampler.Sample(context.Background(), 1800, 3660)
	require.NoError(t, err)
	assert.True(t, avg.Equal(decimal.NewFromInt(3)), "got %s", avg.String())
}

func TestSecondarySampler_CounterWraparound(t *testing.T) {
	// The counter wraps modulo 2^256 between the two observations.
	delta := cumulativeAt(3, 1800) // 3/sec over 1800s
	start := new(big.Int).Sub(two256, big.NewInt(1000))
	end := new(big.Int).Add(start, delta)
	end.Mod(end, two256)
	require.True(t, end.Cmp(start) < 0, "fixture must wrap")

	pool := &fakePool{samples: []PoolSample{
		{PriceCumulative: start, Timestamp: 1850},
		{PriceCumulative: end, Timestamp: 3650},
	}}
	sampler := NewSecondarySampler(pool, testMaxDelay, logging.NewNoopLogger())

	_, err := sampler.Sample(context.Background(), 1800, 1860)
	require.NoError(t, err)

	avg, err := sampler.Sample(context.Background(), 1800, 3660)
	require.NoError(t, err)
	assert.True(t, avg.Equal(decimal.NewFromInt(3)), "got %s", avg.String())
}
