package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/metrics"
)

// Manual override sanity bounds relative to the preceding epoch's price.
var (
	manualLowerFactor = decimal.RequireFromString("0.1")
	manualUpperFactor = decimal.RequireFromString("10")
)

// deviationFactor is the tolerance between the two estimators: when one
// exceeds the other by strictly more than this factor the epoch is skipped.
var deviationFactor = decimal.NewFromInt(2)

// Aggregator runs one update cycle per epoch: it reads both feeds, applies
// the fallback/deviation policy and commits the result. Epochs progress
// strictly in order and every epoch is decided exactly once, as committed or
// permanently skipped. Only the manual path can later fill a skipped epoch.
type Aggregator struct {
	mu        sync.Mutex
	logger    *logging.Logger
	primary   *PrimaryReader
	secondary *SecondarySampler
	store     Store

	epochLength uint64
	maxDelay    uint64
	lastEpoch   uint64 // end timestamp of the last decided epoch

	now func() uint64 // clock, replaced in tests

	subscribers   []chan<- EpochResult
	subscribersMu sync.RWMutex
}

// Status is a read-only snapshot of the aggregator's cycle state.
type Status struct {
	LastEpoch     uint64  `json:"last_epoch"`
	NextEpoch     uint64  `json:"next_epoch"`
	CursorRound   uint64  `json:"cursor_round"`
	CursorUpdated uint64  `json:"cursor_updated_at"`
	ObservationAt *uint64 `json:"observation_at,omitempty"`
}

// NewAggregator creates an aggregator that will process the epoch ending at
// startEpoch+epochLength first. startEpoch must be epoch-aligned.
func NewAggregator(primary *PrimaryReader, secondary *SecondarySampler, store Store, epochLength, maxDelay, startEpoch uint64, logger *logging.Logger) (*Aggregator, error) {
	if !IsEpochAligned(startEpoch, epochLength) {
		return nil, fmt.Errorf("%w: %d", ErrEpochMisaligned, startEpoch)
	}
	return &Aggregator{
		logger:      logger,
		primary:     primary,
		secondary:   secondary,
		store:       store,
		epochLength: epochLength,
		maxDelay:    maxDelay,
		lastEpoch:   startEpoch,
		now:         func() uint64 { return uint64(time.Now().Unix()) },
	}, nil
}

// Update runs one cycle, deciding the epoch ending at lastEpoch+epochLength.
// It returns ErrEpochNotElapsed when that epoch has not fully elapsed and
// ErrPrimaryBacklog when the round bound stopped the primary read short; in
// both cases, and on transport errors, the epoch stays undecided and a later
// invocation resumes it. A nil return advances the epoch sequence by exactly
// one, whether a price was committed or the epoch was skipped.
func (a *Aggregator) Update(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	now := a.now()
	target := a.lastEpoch + a.epochLength

	if now < target {
		metrics.RecordUpdateCycle("premature", time.Since(start))
		return fmt.Errorf("%w: epoch %d ends in %ds", ErrEpochNotElapsed, target, target-now)
	}

	primaryAvg, complete, err := a.primary.ReadEpoch(ctx, target)
	if err != nil {
		// Transport-level failure. The reader kept whatever cursor progress
		// it made; the epoch stays undecided and the next cycle retries.
		metrics.RecordUpdateCycle("error", time.Since(start))
		return fmt.Errorf("primary feed read failed: %w", err)
	}
	if !complete {
		// The round bound stopped the read short. The reader holds the
		// partial sum, so the epoch stays undecided and the next invocation
		// resumes it; the secondary baseline is left untouched.
		metrics.RecordUpdateCycle("backlog", time.Since(start))
		return fmt.Errorf("%w: epoch %d", ErrPrimaryBacklog, target)
	}

	// The sampler runs every cycle so a fresh baseline observation is taken,
	// but its average can only close the epoch while the cycle is still
	// within the delay bound of the epoch boundary.
	secondaryAvg, err := a.secondary.Sample(ctx, target-a.epochLength, now)
	if err != nil {
		a.logger.Warn("Secondary pool sample failed", "epoch", target, "error", err.Error())
		secondaryAvg = decimal.Zero
	}
	if now > target+a.maxDelay {
		secondaryAvg = decimal.Zero
	}

	result := a.reconcile(target, primaryAvg, secondaryAvg)

	if result.Status == EpochCommitted {
		if err := a.commit(ctx, target, Record{Price: result.Price, Source: result.Source}); err != nil {
			metrics.RecordUpdateCycle("error", time.Since(start))
			return err
		}
		metrics.RecordEpochCommitted(string(result.Source), target)
		a.logger.Info("Committed epoch price",
			"epoch", target,
			"price", result.Price.String(),
			"source", string(result.Source))
	} else {
		metrics.RecordEpochSkipped(string(result.Reason), target)
		a.logger.Warn("Skipped epoch",
			"epoch", target,
			"reason", string(result.Reason),
			"primary", primaryAvg.String(),
			"secondary", secondaryAvg.String())
	}

	// The sequence advances whether or not a price was committed; skipped
	// epochs are never retried automatically.
	a.lastEpoch = target
	a.publish(result)
	metrics.RecordUpdateCycle(string(result.Status), time.Since(start))
	return nil
}

// reconcile applies the source-preference policy: primary is authoritative
// when corroborated, otherwise whichever estimator produced a value; a
// disagreement beyond the deviation factor poisons the epoch.
func (a *Aggregator) reconcile(epoch uint64, primary, secondary decimal.Decimal) EpochResult {
	switch {
	case primary.IsZero() && secondary.IsZero():
		return EpochResult{Epoch: epoch, Status: EpochSkipped, Reason: SkipMissingData}
	case primary.IsZero():
		return EpochResult{Epoch: epoch, Status: EpochCommitted, Price: secondary, Source: SourceSecondary}
	case secondary.IsZero():
		return EpochResult{Epoch: epoch, Status: EpochCommitted, Price: primary, Source: SourcePrimary}
	case primary.GreaterThan(secondary.Mul(deviationFactor)) || secondary.GreaterThan(primary.Mul(deviationFactor)):
		return EpochResult{Epoch: epoch, Status: EpochSkipped, Reason: SkipDeviation}
	default:
		return EpochResult{Epoch: epoch, Status: EpochCommitted, Price: primary, Source: SourcePrimary}
	}
}

// commit writes the record after checking the slot is still empty.
func (a *Aggregator) commit(ctx context.Context, epoch uint64, rec Record) error {
	existing, err := a.store.Get(ctx, epoch)
	if err != nil {
		return fmt.Errorf("failed to check epoch slot: %w", err)
	}
	if !existing.IsZero() {
		return fmt.Errorf("%w: epoch %d", ErrSlotOccupied, epoch)
	}
	if err := a.store.Put(ctx, epoch, rec); err != nil {
		return fmt.Errorf("failed to write epoch price: %w", err)
	}
	return nil
}

// SubmitManualPrice fills a previously skipped epoch with an operator
// price. The epoch must be aligned, already decided, currently empty, and
// the immediately preceding epoch must hold a committed price; the submitted
// price must lie strictly between 0.1x and 10x of that reference.
func (a *Aggregator) SubmitManualPrice(ctx context.Context, epoch uint64, price decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateManual(ctx, epoch, price); err != nil {
		metrics.RecordManualSubmission("rejected")
		return err
	}

	if err := a.store.Put(ctx, epoch, Record{Price: price, Source: SourceManual}); err != nil {
		metrics.RecordManualSubmission("error")
		return fmt.Errorf("failed to write manual price: %w", err)
	}

	metrics.RecordManualSubmission("accepted")
	a.logger.Warn("Manual price committed",
		"epoch", epoch,
		"price", price.String())
	a.publish(EpochResult{Epoch: epoch, Status: EpochCommitted, Price: price, Source: SourceManual})
	return nil
}

func (a *Aggregator) validateManual(ctx context.Context, epoch uint64, price decimal.Decimal) error {
	if !IsEpochAligned(epoch, a.epochLength) {
		return fmt.Errorf("%w: %d", ErrEpochMisaligned, epoch)
	}
	if epoch > a.lastEpoch {
		return fmt.Errorf("%w: epoch %d, last decided %d", ErrEpochNotDecided, epoch, a.lastEpoch)
	}
	if price.Sign() <= 0 {
		return ErrInvalidPrice
	}

	existing, err := a.store.Get(ctx, epoch)
	if err != nil {
		return fmt.Errorf("failed to check epoch slot: %w", err)
	}
	if !existing.IsZero() {
		return fmt.Errorf("%w: epoch %d", ErrSlotOccupied, epoch)
	}

	reference, err := a.store.Get(ctx, epoch-a.epochLength)
	if err != nil {
		return fmt.Errorf("failed to read reference epoch: %w", err)
	}
	if reference.IsZero() {
		return fmt.Errorf("%w: epoch %d", ErrNoReferencePrice, epoch-a.epochLength)
	}

	lower := reference.Price.Mul(manualLowerFactor)
	upper := reference.Price.Mul(manualUpperFactor)
	if !price.GreaterThan(lower) || !price.LessThan(upper) {
		return fmt.Errorf("%w: %s not strictly within (%s, %s)", ErrPriceOutOfBounds, price.String(), lower.String(), upper.String())
	}
	return nil
}

// FastForwardCursor repositions the primary feed cursor on the given round,
// bounded so the skipped history cannot reach into undecided epochs.
func (a *Aggregator) FastForwardCursor(ctx context.Context, round uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.primary.FastForward(ctx, round, a.lastEpoch)
}

// GetTWAP returns the committed price for the epoch ending at the given
// timestamp; zero when the epoch is unset, skipped, or misaligned.
func (a *Aggregator) GetTWAP(ctx context.Context, epoch uint64) (Record, error) {
	if !IsEpochAligned(epoch, a.epochLength) {
		return Record{}, nil
	}
	return a.store.Get(ctx, epoch)
}

// PeekSecondaryPrice returns the pool's unvalidated instantaneous price.
func (a *Aggregator) PeekSecondaryPrice(ctx context.Context) (decimal.Decimal, error) {
	return a.secondary.Spot(ctx)
}

// EpochLength returns the configured epoch window length in seconds.
func (a *Aggregator) EpochLength() uint64 {
	return a.epochLength
}

// Status returns a snapshot of cycle state for monitoring.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	cursor := a.primary.Cursor()
	st := Status{
		LastEpoch:     a.lastEpoch,
		NextEpoch:     a.lastEpoch + a.epochLength,
		CursorRound:   cursor.Round,
		CursorUpdated: cursor.UpdatedAt,
	}
	if obs := a.secondary.Observation(); obs != nil {
		ts := obs.Timestamp
		st.ObservationAt = &ts
	}
	return st
}

// Subscribe registers a channel receiving every epoch decision. Slow
// subscribers miss results rather than blocking the update cycle.
func (a *Aggregator) Subscribe(ch chan<- EpochResult) {
	a.subscribersMu.Lock()
	defer a.subscribersMu.Unlock()
	a.subscribers = append(a.subscribers, ch)
}

func (a *Aggregator) publish(result EpochResult) {
	a.subscribersMu.RLock()
	defer a.subscribersMu.RUnlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- result:
		default:
		}
	}
}
