package oracle

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/twap-oracle/pkg/logging"
)

const (
	testEpochLength uint64 = 1800
	testMaxDelay    uint64 = 300
)

// fakeFeed is an in-memory RoundFeed.
type fakeFeed struct {
	decimals uint8
	rounds   map[uint64]Round
}

func newFakeFeed(decimals uint8) *fakeFeed {
	return &fakeFeed{decimals: decimals, rounds: make(map[uint64]Round)}
}

func (f *fakeFeed) add(id uint64, answer int64, updatedAt uint64) {
	f.rounds[id] = Round{ID: id, Answer: big.NewInt(answer), UpdatedAt: updatedAt}
}

func (f *fakeFeed) Round(_ context.Context, id uint64) (Round, error) {
	rd, ok := f.rounds[id]
	if !ok {
		return Round{}, fmt.Errorf("%w: %d", ErrRoundNotAvailable, id)
	}
	return rd, nil
}

func (f *fakeFeed) LatestRound(_ context.Context) (Round, error) {
	var best Round
	found := false
	for _, rd := range f.rounds {
		if !found || rd.ID > best.ID {
			best = rd
			found = true
		}
	}
	if !found {
		return Round{}, ErrRoundNotAvailable
	}
	return best, nil
}

func (f *fakeFeed) Decimals() uint8 { return f.decimals }

// answerAt returns an 8-decimal answer for a price in whole units.
func answerAt(price int64) int64 {
	return price * 1e8
}

func TestPrimaryReader_ExactTimeWeightedAverage(t *testing.T) {
	feed := newFakeFeed(8)
	// Seed round before the epoch; its answer holds from epoch start until
	// the first in-epoch update.
	feed.add(100, answerAt(500), 1700)

	// Twelve updates strictly inside (1800, 3600].
	updates := []struct {
		id    uint64
		price int64
		ts    uint64
	}{
		{101, 510, 1850}, {102, 490, 1990}, {103, 505, 2100},
		{104, 520, 2230}, {105, 515, 2400}, {106, 480, 2520},
		{107, 495, 2700}, {108, 530, 2840}, {109, 525, 3000},
		{110, 500, 3150}, {111, 510, 3300}, {112, 505, 3550},
	}
	for _, u := range updates {
		feed.add(u.id, answerAt(u.price), u.ts)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(500)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete)

	// Independent step-function integral over the epoch.
	sum := new(big.Int)
	prev := big.NewInt(answerAt(500))
	watermark := uint64(1800)
	for _, u := range updates {
		dt := new(big.Int).SetUint64(u.ts - watermark)
		sum.Add(sum, dt.Mul(dt, prev))
		prev = big.NewInt(answerAt(u.price))
		watermark = u.ts
	}
	tail := new(big.Int).SetUint64(3600 - watermark)
	sum.Add(sum, tail.Mul(tail, prev))
	expected := sum.Mul(sum, new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)) // 1e18/1e8
	expected.Quo(expected, new(big.Int).SetUint64(testEpochLength))

	assert.True(t, got.Equal(decimal.NewFromBigInt(expected, -18)),
		"expected %s, got %s", decimal.NewFromBigInt(expected, -18).String(), got.String())

	// Cursor rests on the last in-epoch round.
	assert.Equal(t, uint64(112), reader.Cursor().Round)
	assert.Equal(t, uint64(3550), reader.Cursor().UpdatedAt)
}

func TestPrimaryReader_ConstantAnswer(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 1700)
	for i := uint64(1); i <= 12; i++ {
		feed.add(100+i, answerAt(100), 1800+i*140)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete)
	assert.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got.String())
}

func TestPrimaryReader_InsufficientRounds(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 1700)
	// Only five in-epoch updates, below the minimum of ten.
	for i := uint64(1); i <= 5; i++ {
		feed.add(100+i, answerAt(100), 1800+i*200)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete, "a short epoch is still a completed read")
	assert.True(t, got.IsZero())

	// Forward progress through the round sequence is kept regardless.
	assert.Equal(t, uint64(105), reader.Cursor().Round)
}

func TestPrimaryReader_FutureRoundNotConsumed(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 1700)
	for i := uint64(1); i <= 11; i++ {
		feed.add(100+i, answerAt(100), 1800+i*150)
	}
	// Belongs to the next epoch; must be left for the next cycle.
	feed.add(112, answerAt(999), 3700)

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete)
	assert.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got.String())
	assert.Equal(t, uint64(111), reader.Cursor().Round)
	assert.Equal(t, uint64(3450), reader.Cursor().UpdatedAt)
}

func TestPrimaryReader_IterationBoundSuspendsAndResumes(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 1700)
	// A burst of 25 updates inside the epoch, more than the 20-step bound;
	// the later ones already trade at the new level.
	for i := uint64(1); i <= 10; i++ {
		feed.add(100+i, answerAt(100), 1800+i*70)
	}
	for i := uint64(11); i <= 25; i++ {
		feed.add(100+i, answerAt(200), 1800+i*70)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 20, logging.NewNoopLogger())

	// The bound stops short of the epoch boundary: no result yet, but cursor
	// progress and the partial sum are retained.
	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.True(t, got.IsZero())
	assert.Equal(t, uint64(120), reader.Cursor().Round)

	// Re-invoking for the same epoch resumes the suspended read and must
	// produce the exact average of the whole epoch, not just the remainder:
	// 100 holds over (1800, 2570] and 200 over (2570, 3600].
	got, complete, err = reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete)
	want := decimal.RequireFromString("157.222222222222222222")
	assert.True(t, got.Equal(want), "expected %s, got %s", want.String(), got.String())
	assert.Equal(t, uint64(125), reader.Cursor().Round)
}

func TestPrimaryReader_SuspendedProgressDroppedForNewEpoch(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 1700)
	for i := uint64(1); i <= 10; i++ {
		feed.add(100+i, answerAt(100), 1800+i*70)
	}
	for i := uint64(11); i <= 25; i++ {
		feed.add(100+i, answerAt(200), 1800+i*70)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 20, logging.NewNoopLogger())

	_, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.False(t, complete)

	// Asking for a different epoch discards the suspended sum: the old
	// rounds drain without contributing and the new epoch's own updates
	// carry the average.
	for i := uint64(1); i <= 12; i++ {
		feed.add(125+i, answerAt(200), 3600+i*140)
	}
	got, complete, err := reader.ReadEpoch(context.Background(), 5400)
	require.NoError(t, err)
	require.True(t, complete)
	assert.True(t, got.Equal(decimal.NewFromInt(200)), "got %s", got.String())
	assert.Equal(t, uint64(137), reader.Cursor().Round)
}

func TestPrimaryReader_CursorNotSeeded(t *testing.T) {
	reader := NewPrimaryReader(newFakeFeed(8), FeedCursor{}, testEpochLength, 10, 100, logging.NewNoopLogger())
	_, _, err := reader.ReadEpoch(context.Background(), 3600)
	assert.ErrorIs(t, err, ErrCursorNotSeeded)
}

func TestPrimaryReader_FeedDecimalsNormalization(t *testing.T) {
	// A 6-decimal feed must still produce an 18-decimal result.
	feed := newFakeFeed(6)
	feed.add(100, 2_500_000, 1700) // 2.5
	for i := uint64(1); i <= 10; i++ {
		feed.add(100+i, 2_500_000, 1800+i*160)
	}

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(2_500_000), UpdatedAt: 1700}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	got, complete, err := reader.ReadEpoch(context.Background(), 3600)
	require.NoError(t, err)
	require.True(t, complete)
	assert.True(t, got.Equal(decimal.RequireFromString("2.5")), "got %s", got.String())
}

func TestPrimaryReader_FastForward(t *testing.T) {
	feed := newFakeFeed(8)
	feed.add(100, answerAt(100), 35000)
	feed.add(500, answerAt(110), 36000)
	feed.add(501, answerAt(120), 37900)

	cursor := FeedCursor{Round: 100, Answer: big.NewInt(answerAt(100)), UpdatedAt: 35000}
	reader := NewPrimaryReader(feed, cursor, testEpochLength, 10, 100, logging.NewNoopLogger())

	// Timestamp newer than the last decided epoch boundary is rejected.
	err := reader.FastForward(context.Background(), 501, 37800)
	assert.ErrorIs(t, err, ErrCursorBeyondEpoch)

	// Timestamp not advancing the cursor is rejected.
	reader.cursor.UpdatedAt = 36000
	err = reader.FastForward(context.Background(), 500, 37800)
	assert.ErrorIs(t, err, ErrCursorNotAdvanced)

	// Valid repositioning.
	reader.cursor.UpdatedAt = 35000
	err = reader.FastForward(context.Background(), 500, 37800)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), reader.Cursor().Round)
	assert.Equal(t, uint64(36000), reader.Cursor().UpdatedAt)
}
