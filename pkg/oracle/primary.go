package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/metrics"
)

// PrimaryReader replays the primary feed's round sequence and accumulates an
// exact time-weighted sum per epoch. The feed history is effectively
// unbounded, so the reader holds a resumable cursor and consumes at most
// maxSteps rounds per call; hitting the bound is an expected outcome and the
// next call picks up where this one stopped.
type PrimaryReader struct {
	feed        RoundFeed
	cursor      FeedCursor
	progress    *epochProgress
	epochLength uint64
	minRounds   int
	maxSteps    int
	logger      *logging.Logger
}

// epochProgress is the partial accumulation carried between bounded calls
// for one epoch, so a resumed read loses none of the rounds already
// consumed.
type epochProgress struct {
	epochEnd      uint64
	sum           *big.Int
	watermark     uint64
	contributions int
}

// NewPrimaryReader creates a reader resuming from the given cursor. The
// cursor must be seeded from a real round (see SeedCursor) before the first
// ReadEpoch call.
func NewPrimaryReader(feed RoundFeed, cursor FeedCursor, epochLength uint64, minRounds, maxSteps int, logger *logging.Logger) *PrimaryReader {
	return &PrimaryReader{
		feed:        feed,
		cursor:      cursor.Clone(),
		epochLength: epochLength,
		minRounds:   minRounds,
		maxSteps:    maxSteps,
		logger:      logger,
	}
}

// SeedCursor fetches the given round (or the latest round when id is zero)
// and positions the cursor on it.
func SeedCursor(ctx context.Context, feed RoundFeed, id uint64) (FeedCursor, error) {
	var (
		rd  Round
		err error
	)
	if id == 0 {
		rd, err = feed.LatestRound(ctx)
	} else {
		rd, err = feed.Round(ctx, id)
	}
	if err != nil {
		return FeedCursor{}, fmt.Errorf("failed to seed cursor: %w", err)
	}
	return FeedCursor{Round: rd.ID, Answer: rd.Answer, UpdatedAt: rd.UpdatedAt}, nil
}

// Cursor returns a copy of the current cursor state.
func (r *PrimaryReader) Cursor() FeedCursor {
	return r.cursor.Clone()
}

// ReadEpoch consumes feed rounds forward from the cursor and returns the
// time-weighted average over (epochEnd-epochLength, epochEnd], normalized to
// 18 decimals. The second return reports whether the read reached the epoch
// boundary: when the iteration bound stops it short, the partial sum is
// retained alongside the cursor and the next call for the same epoch resumes
// where this one stopped. A complete read with fewer than minRounds in-epoch
// updates yields a zero average. Cursor progress is kept in every case,
// including errors, so no round is ever read twice or skipped.
func (r *PrimaryReader) ReadEpoch(ctx context.Context, epochEnd uint64) (decimal.Decimal, bool, error) {
	if !r.cursor.Seeded() {
		return decimal.Zero, false, ErrCursorNotSeeded
	}

	epochStart := epochEnd - r.epochLength

	sum := new(big.Int)
	watermark := epochStart
	contributions := 0
	if r.progress != nil && r.progress.epochEnd == epochEnd {
		sum = r.progress.sum
		watermark = r.progress.watermark
		contributions = r.progress.contributions
	}
	r.progress = nil

	prevAnswer := new(big.Int).Set(r.cursor.Answer)
	prevUpdated := r.cursor.UpdatedAt
	round := r.cursor.Round

	consumed := 0
	reachedEnd := false

	persist := func() {
		r.cursor = FeedCursor{Round: round, Answer: prevAnswer, UpdatedAt: prevUpdated}
		metrics.RecordRoundsConsumed(consumed, round)
	}
	suspend := func() {
		persist()
		r.progress = &epochProgress{
			epochEnd:      epochEnd,
			sum:           sum,
			watermark:     watermark,
			contributions: contributions,
		}
	}

	for step := 0; step < r.maxSteps; step++ {
		rd, err := r.feed.Round(ctx, round+1)
		if err != nil {
			if errors.Is(err, ErrRoundNotAvailable) {
				// Feed has no newer rounds; everything up to epochEnd is known.
				reachedEnd = true
				break
			}
			suspend()
			return decimal.Zero, false, fmt.Errorf("failed to read round %d: %w", round+1, err)
		}

		// A timestamp below the last-seen one means the round is not visible
		// yet; one past epochEnd belongs to a future epoch. Either way the
		// round is left unconsumed for the next cycle.
		if rd.UpdatedAt < prevUpdated || rd.UpdatedAt > epochEnd {
			reachedEnd = true
			break
		}

		if rd.UpdatedAt > watermark {
			dt := new(big.Int).SetUint64(rd.UpdatedAt - watermark)
			sum.Add(sum, dt.Mul(dt, prevAnswer))
			watermark = rd.UpdatedAt
			contributions++
		}

		prevAnswer = rd.Answer
		prevUpdated = rd.UpdatedAt
		round = rd.ID
		consumed++
	}

	if !reachedEnd {
		// Iteration bound hit with rounds still pending: keep the partial
		// sum and let the caller re-invoke. Not an error.
		suspend()
		r.logger.Info("Primary feed backlog, epoch read suspended",
			"epoch", epochEnd,
			"cursor_round", round,
			"consumed", consumed)
		return decimal.Zero, false, nil
	}

	persist()

	if contributions < r.minRounds {
		r.logger.Debug("Insufficient primary feed rounds for epoch",
			"epoch", epochEnd,
			"contributions", contributions,
			"required", r.minRounds)
		return decimal.Zero, true, nil
	}

	// Tail: the last answer holds from the watermark to the epoch boundary.
	if epochEnd > watermark {
		dt := new(big.Int).SetUint64(epochEnd - watermark)
		sum.Add(sum, dt.Mul(dt, prevAnswer))
	}

	return r.normalize(sum), true, nil
}

// FastForward repositions the cursor on the given round, skipping every
// round in between. The target must strictly advance the cursor's timestamp
// and must not be newer than maxUpdatedAt (the last decided epoch boundary).
func (r *PrimaryReader) FastForward(ctx context.Context, id uint64, maxUpdatedAt uint64) error {
	rd, err := r.feed.Round(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read round %d: %w", id, err)
	}
	if rd.UpdatedAt <= r.cursor.UpdatedAt {
		return fmt.Errorf("%w: round %d at %d, cursor at %d", ErrCursorNotAdvanced, id, rd.UpdatedAt, r.cursor.UpdatedAt)
	}
	if rd.UpdatedAt > maxUpdatedAt {
		return fmt.Errorf("%w: round %d at %d, last epoch %d", ErrCursorBeyondEpoch, id, rd.UpdatedAt, maxUpdatedAt)
	}

	r.logger.Warn("Fast-forwarding primary feed cursor",
		"from_round", r.cursor.Round,
		"to_round", rd.ID,
		"updated_at", rd.UpdatedAt)

	r.cursor = FeedCursor{Round: rd.ID, Answer: rd.Answer, UpdatedAt: rd.UpdatedAt}
	r.progress = nil
	return nil
}

// normalize converts an answer-seconds sum in feed decimals into an
// 18-decimal average over the epoch.
func (r *PrimaryReader) normalize(sum *big.Int) decimal.Decimal {
	scaled := new(big.Int).Mul(sum, pow10(18))
	denom := new(big.Int).Mul(pow10(int(r.feed.Decimals())), new(big.Int).SetUint64(r.epochLength))
	scaled.Quo(scaled, denom)
	return decimal.NewFromBigInt(scaled, -18)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
