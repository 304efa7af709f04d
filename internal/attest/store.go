package attest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

// MemoryStore is an in-process baseline store for tests and single-process
// use.
type MemoryStore struct {
	mu        sync.Mutex
	baselines map[baselineKey]Baseline
}

type baselineKey struct {
	taskID string
	phase  phase.Phase
}

// NewMemoryStore creates an empty in-memory baseline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baselines: make(map[baselineKey]Baseline)}
}

// Get returns the baseline for (taskID, ph), or nil if absent.
func (s *MemoryStore) Get(_ context.Context, taskID string, ph phase.Phase) (*Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.baselines[baselineKey{taskID, ph}]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

// Put stores a baseline.
func (s *MemoryStore) Put(_ context.Context, b Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baselines[baselineKey{b.TaskID, b.Phase}] = b
	return nil
}

// SQLiteStore persists baselines in the shared database.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a baseline store over the given database.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Get returns the baseline for (taskID, ph), or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, taskID string, ph phase.Phase) (*Baseline, error) {
	var b Baseline
	var phaseStr, contract string
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT task_id, phase, hash, contract, created_at
		 FROM attestation_baselines WHERE task_id = ? AND phase = ?`,
		taskID, ph.String(),
	).Scan(&b.TaskID, &phaseStr, &b.Hash, &contract, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning baseline: %w", err)
	}

	b.Phase = phase.Phase(phaseStr)
	if err := json.Unmarshal([]byte(contract), &b.Contract); err != nil {
		return nil, fmt.Errorf("decoding baseline contract: %w", err)
	}
	return &b, nil
}

// Put stores a baseline. The first write for a (task, phase) wins; a
// concurrent duplicate insert keeps the existing row.
func (s *SQLiteStore) Put(ctx context.Context, b Baseline) error {
	contract, err := json.Marshal(b.Contract)
	if err != nil {
		return fmt.Errorf("encoding baseline contract: %w", err)
	}

	if _, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO attestation_baselines (task_id, phase, hash, contract, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, phase) DO NOTHING`,
		b.TaskID, b.Phase.String(), b.Hash, string(contract), b.CreatedAt,
	); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	return nil
}
