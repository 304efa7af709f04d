package lease

import (
	"context"
	"sync"
	"time"

	"github.com/marcus/phasegate/internal/phase"
)

// MemoryStore is an in-process lease store for tests and single-process use.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[leaseKey]Lease
}

type leaseKey struct {
	taskID string
	phase  phase.Phase
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[leaseKey]Lease)}
}

// Get returns the lease for (taskID, ph), or nil if absent.
func (s *MemoryStore) Get(_ context.Context, taskID string, ph phase.Phase) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[leaseKey{taskID, ph}]; ok {
		cp := l
		return &cp, nil
	}
	return nil, nil
}

// Mutate applies fn to the current record while holding the store lock.
func (s *MemoryStore) Mutate(_ context.Context, taskID string, ph phase.Phase, fn func(cur *Lease) (*Lease, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := leaseKey{taskID, ph}
	var cur *Lease
	if l, ok := s.leases[key]; ok {
		cp := l
		cur = &cp
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	if next == nil {
		delete(s.leases, key)
	} else {
		s.leases[key] = *next
	}
	return nil
}

// List returns all lease records.
func (s *MemoryStore) List(_ context.Context) ([]Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leases := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		leases = append(leases, l)
	}
	return leases, nil
}

// DeleteExpired removes all leases that lapsed before now.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, l := range s.leases {
		if l.ExpiredAt(now) {
			delete(s.leases, key)
			deleted++
		}
	}
	return deleted, nil
}
