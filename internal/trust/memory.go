package trust

import (
	"context"
	"sync"

	"github.com/marcus/phasegate/internal/phase"
)

// MemoryStore is an in-process trust store for tests and single-process use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[phase.Phase]Record
}

// NewMemoryStore creates an empty in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[phase.Phase]Record)}
}

// Get returns the record for ph, or nil if never scored.
func (s *MemoryStore) Get(_ context.Context, ph phase.Phase) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[ph]; ok {
		cp := rec
		cp.FailurePatterns = clonePatterns(rec.FailurePatterns)
		return &cp, nil
	}
	return nil, nil
}

// Mutate applies fn while holding the store lock.
func (s *MemoryStore) Mutate(_ context.Context, ph phase.Phase, fn func(cur *Record) (*Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *Record
	if rec, ok := s.records[ph]; ok {
		cp := rec
		cp.FailurePatterns = clonePatterns(rec.FailurePatterns)
		cur = &cp
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next != nil {
		s.records[ph] = *next
	}
	return nil
}

// List returns all records in phase order.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	for _, ph := range phase.Sequence {
		if rec, ok := s.records[ph]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func clonePatterns(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
