package oracle

import "errors"

var (
	// ErrEpochNotElapsed indicates an update was requested before the next epoch fully elapsed.
	ErrEpochNotElapsed = errors.New("epoch has not elapsed yet")
	// ErrRoundNotAvailable indicates the feed has not populated the requested round.
	ErrRoundNotAvailable = errors.New("round not available")
	// ErrPrimaryBacklog indicates the round bound stopped an epoch read short; re-invoke to resume.
	ErrPrimaryBacklog = errors.New("primary feed backlog, epoch read incomplete")
	// ErrCursorNotSeeded indicates the primary cursor was never initialized with a round.
	ErrCursorNotSeeded = errors.New("primary cursor not seeded")
	// ErrEpochMisaligned indicates a timestamp that is not on an epoch boundary.
	ErrEpochMisaligned = errors.New("timestamp not aligned to epoch boundary")
	// ErrEpochNotDecided indicates the targeted epoch has not been processed by the aggregator yet.
	ErrEpochNotDecided = errors.New("epoch not decided yet")
	// ErrSlotOccupied indicates the epoch already has a committed price.
	ErrSlotOccupied = errors.New("epoch slot already committed")
	// ErrNoReferencePrice indicates the preceding epoch has no committed price to bound against.
	ErrNoReferencePrice = errors.New("preceding epoch has no committed price")
	// ErrPriceOutOfBounds indicates a manual price outside the allowed deviation from the reference.
	ErrPriceOutOfBounds = errors.New("price out of allowed bounds")
	// ErrInvalidPrice indicates a zero or negative price submission.
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrCursorNotAdvanced indicates a fast-forward target not newer than the current cursor.
	ErrCursorNotAdvanced = errors.New("target round does not advance the cursor")
	// ErrCursorBeyondEpoch indicates a fast-forward target newer than the last decided epoch.
	ErrCursorBeyondEpoch = errors.New("target round is newer than the last decided epoch")
)
