package sequencer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

// StateStore tracks each task's current phase. A task with no record is not
// in a cycle. Only the sequencer mutates this store.
type StateStore interface {
	Current(ctx context.Context, taskID string) (phase.Phase, bool, error)
	Set(ctx context.Context, taskID string, ph phase.Phase) error
	Clear(ctx context.Context, taskID string) error
	List(ctx context.Context) (map[string]phase.Phase, error)
}

// SQLiteStateStore persists phase state in the shared database.
type SQLiteStateStore struct {
	db *db.DB
}

// NewSQLiteStateStore creates a state store over the given database.
func NewSQLiteStateStore(d *db.DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: d}
}

func (s *SQLiteStateStore) Current(ctx context.Context, taskID string) (phase.Phase, bool, error) {
	var ph string
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT current_phase FROM phase_state WHERE task_id = ?`, taskID).Scan(&ph)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading phase state: %w", err)
	}
	return phase.Phase(ph), true, nil
}

func (s *SQLiteStateStore) Set(ctx context.Context, taskID string, ph phase.Phase) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO phase_state (task_id, current_phase, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   current_phase = excluded.current_phase,
		   updated_at = excluded.updated_at`,
		taskID, ph.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing phase state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) Clear(ctx context.Context, taskID string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM phase_state WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("clearing phase state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) List(ctx context.Context) (map[string]phase.Phase, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT task_id, current_phase FROM phase_state`)
	if err != nil {
		return nil, fmt.Errorf("listing phase state: %w", err)
	}
	defer rows.Close()

	states := make(map[string]phase.Phase)
	for rows.Next() {
		var taskID, ph string
		if err := rows.Scan(&taskID, &ph); err != nil {
			return nil, fmt.Errorf("scanning phase state: %w", err)
		}
		states[taskID] = phase.Phase(ph)
	}
	return states, rows.Err()
}

// MemoryStateStore is an in-memory StateStore for tests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]phase.Phase
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]phase.Phase)}
}

func (s *MemoryStateStore) Current(_ context.Context, taskID string) (phase.Phase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ph, ok := s.states[taskID]
	return ph, ok, nil
}

func (s *MemoryStateStore) Set(_ context.Context, taskID string, ph phase.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[taskID] = ph
	return nil
}

func (s *MemoryStateStore) Clear(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, taskID)
	return nil
}

func (s *MemoryStateStore) List(_ context.Context) (map[string]phase.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]phase.Phase, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}
