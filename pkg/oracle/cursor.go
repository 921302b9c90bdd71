package oracle

import "math/big"

// FeedCursor tracks consumption of the primary feed's round sequence.
// Round is the last consumed round ID; Answer and UpdatedAt describe that
// round. UpdatedAt never decreases across cycles except through an explicit
// administrative fast-forward.
type FeedCursor struct {
	Round     uint64
	Answer    *big.Int
	UpdatedAt uint64
}

// Clone returns a deep copy so callers can mutate freely.
func (c FeedCursor) Clone() FeedCursor {
	out := c
	if c.Answer != nil {
		out.Answer = new(big.Int).Set(c.Answer)
	}
	return out
}

// Seeded reports whether the cursor has been initialized from a real round.
func (c FeedCursor) Seeded() bool {
	return c.Answer != nil && c.UpdatedAt > 0
}

// PoolObservation is the stored left endpoint for the next epoch's
// secondary average: the last recorded cumulative counter and its timestamp.
type PoolObservation struct {
	PriceCumulative *big.Int
	Timestamp       uint64
}

// Clone returns a deep copy so callers can mutate freely.
func (o PoolObservation) Clone() PoolObservation {
	out := o
	if o.PriceCumulative != nil {
		out.PriceCumulative = new(big.Int).Set(o.PriceCumulative)
	}
	return out
}
