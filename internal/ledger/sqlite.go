package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

// SQLiteStore persists ledger entries in the shared database. Appends run
// inside a write transaction so the chain tail cannot move between the
// prev-hash read and the insert.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a ledger store over the given database.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Append reads the task's tail entry and commits the entry returned by fn in
// the same transaction.
func (s *SQLiteStore) Append(ctx context.Context, taskID string, fn func(last *Entry) (Entry, error)) (Entry, error) {
	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT task_id, from_phase, to_phase, artifacts, validated, backtrack,
		        timestamp, agent_type, provenance, prev_hash, hash
		 FROM ledger_entries WHERE task_id = ? ORDER BY seq DESC LIMIT 1`, taskID)
	last, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}

	entry, err := fn(last)
	if err != nil {
		return Entry{}, err
	}

	artifacts, err := json.Marshal(entry.Artifacts)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding artifacts: %w", err)
	}
	var provenance any
	if entry.Provenance != nil {
		data, err := json.Marshal(entry.Provenance)
		if err != nil {
			return Entry{}, fmt.Errorf("encoding provenance: %w", err)
		}
		provenance = string(data)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries
		   (task_id, from_phase, to_phase, artifacts, validated, backtrack,
		    timestamp, agent_type, provenance, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID, entry.FromPhase.String(), entry.ToPhase.String(),
		string(artifacts), entry.Validated, entry.Backtrack,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.AgentType, provenance, entry.PrevHash, entry.Hash,
	); err != nil {
		return Entry{}, fmt.Errorf("inserting ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit ledger entry: %w", err)
	}
	return entry, nil
}

// Entries returns a task's chain in append order.
func (s *SQLiteStore) Entries(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT task_id, from_phase, to_phase, artifacts, validated, backtrack,
		        timestamp, agent_type, provenance, prev_hash, hash
		 FROM ledger_entries WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row *sql.Row) (*Entry, error) {
	e, err := scanEntryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntryRow(s scanner) (Entry, error) {
	var e Entry
	var fromPhase, toPhase, artifacts, timestamp string
	var provenance sql.NullString

	err := s.Scan(&e.TaskID, &fromPhase, &toPhase, &artifacts, &e.Validated,
		&e.Backtrack, &timestamp, &e.AgentType, &provenance, &e.PrevHash, &e.Hash)
	if err != nil {
		return Entry{}, err
	}

	e.FromPhase = phase.Phase(fromPhase)
	e.ToPhase = phase.Phase(toPhase)

	if err := json.Unmarshal([]byte(artifacts), &e.Artifacts); err != nil {
		return Entry{}, fmt.Errorf("decoding artifacts: %w", err)
	}
	if provenance.Valid {
		var p Provenance
		if err := json.Unmarshal([]byte(provenance.String), &p); err != nil {
			return Entry{}, fmt.Errorf("decoding provenance: %w", err)
		}
		e.Provenance = &p
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing entry timestamp: %w", err)
	}
	e.Timestamp = ts

	return e, nil
}
