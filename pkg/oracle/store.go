package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Record is a finalized epoch price. A zero Price means the epoch slot is
// unset; a nonzero Price never changes once written.
type Record struct {
	Price  decimal.Decimal `json:"price"`
	Source Source          `json:"source"`
}

// IsZero reports whether the slot is unset.
func (r Record) IsZero() bool {
	return r.Price.IsZero()
}

// Store is the append-only, epoch-keyed price table. Write-once semantics
// are enforced by the callers (the aggregator and the manual path check the
// slot is empty before writing); reads of unset epochs return a zero Record.
type Store interface {
	// Get returns the record for the given epoch end timestamp.
	Get(ctx context.Context, epoch uint64) (Record, error)

	// Put writes the record for the given epoch end timestamp.
	Put(ctx context.Context, epoch uint64, rec Record) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory price table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64]Record)}
}

// Get returns the record for the epoch, zero if unset.
func (s *MemoryStore) Get(_ context.Context, epoch uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[epoch], nil
}

// Put writes the record for the epoch.
func (s *MemoryStore) Put(_ context.Context, epoch uint64, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[epoch] = rec
	return nil
}
