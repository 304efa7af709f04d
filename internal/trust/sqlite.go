package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

// SQLiteStore persists trust records in the shared database.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a trust store over the given database.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Get returns the record for ph, or nil if never scored.
func (s *SQLiteStore) Get(ctx context.Context, ph phase.Phase) (*Record, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT phase, trust, successes, failures, failure_patterns, last_updated
		 FROM trust_records WHERE phase = ?`, ph.String())
	return scanRecord(row)
}

// Mutate applies fn to the current record under a write transaction.
func (s *SQLiteStore) Mutate(ctx context.Context, ph phase.Phase, fn func(cur *Record) (*Record, error)) error {
	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trust tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT phase, trust, successes, failures, failure_patterns, last_updated
		 FROM trust_records WHERE phase = ?`, ph.String())
	cur, err := scanRecord(row)
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next != nil {
		patterns, err := json.Marshal(next.FailurePatterns)
		if err != nil {
			return fmt.Errorf("encoding failure patterns: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trust_records (phase, trust, successes, failures, failure_patterns, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(phase) DO UPDATE SET
			   trust = excluded.trust,
			   successes = excluded.successes,
			   failures = excluded.failures,
			   failure_patterns = excluded.failure_patterns,
			   last_updated = excluded.last_updated`,
			next.Phase.String(), next.Trust, next.Successes, next.Failures,
			string(patterns), next.LastUpdated,
		); err != nil {
			return fmt.Errorf("writing trust record: %w", err)
		}
	}

	return tx.Commit()
}

// List returns all persisted trust records ordered by phase index.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT phase, trust, successes, failures, failure_patterns, last_updated
		 FROM trust_records`)
	if err != nil {
		return nil, fmt.Errorf("listing trust records: %w", err)
	}
	defer rows.Close()

	byPhase := make(map[phase.Phase]Record)
	for rows.Next() {
		var rec Record
		var ph, patterns string
		if err := rows.Scan(&ph, &rec.Trust, &rec.Successes, &rec.Failures, &patterns, &rec.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning trust record: %w", err)
		}
		rec.Phase = phase.Phase(ph)
		if err := json.Unmarshal([]byte(patterns), &rec.FailurePatterns); err != nil {
			return nil, fmt.Errorf("decoding failure patterns: %w", err)
		}
		byPhase[rec.Phase] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var records []Record
	for _, ph := range phase.Sequence {
		if rec, ok := byPhase[ph]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var ph, patterns string
	err := row.Scan(&ph, &rec.Trust, &rec.Successes, &rec.Failures, &patterns, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning trust record: %w", err)
	}
	rec.Phase = phase.Phase(ph)
	if err := json.Unmarshal([]byte(patterns), &rec.FailurePatterns); err != nil {
		return nil, fmt.Errorf("decoding failure patterns: %w", err)
	}
	return &rec, nil
}
