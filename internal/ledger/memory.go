package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-process ledger store for tests and single-process use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

// Append applies fn against the task's tail while holding the store lock.
func (s *MemoryStore) Append(_ context.Context, taskID string, fn func(last *Entry) (Entry, error)) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.entries[taskID]
	var last *Entry
	if len(chain) > 0 {
		cp := chain[len(chain)-1]
		last = &cp
	}

	entry, err := fn(last)
	if err != nil {
		return Entry{}, err
	}

	s.entries[taskID] = append(chain, entry)
	return entry, nil
}

// Entries returns a copy of the task's chain in append order.
func (s *MemoryStore) Entries(_ context.Context, taskID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.entries[taskID]
	out := make([]Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// Corrupt overwrites a stored entry in place. Test hook: real stores have no
// mutation path.
func (s *MemoryStore) Corrupt(taskID string, index int, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chain, ok := s.entries[taskID]; ok && index < len(chain) {
		mutate(&chain[index])
	}
}
