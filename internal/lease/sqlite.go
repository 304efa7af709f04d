package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

// SQLiteStore persists leases in the shared database. Mutations run inside
// an immediate transaction so concurrent processes sharing the file observe
// compare-and-swap semantics.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a lease store over the given database.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Get returns the lease for (taskID, ph), or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, taskID string, ph phase.Phase) (*Lease, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT task_id, phase, holder, acquired_at, expires_at, renewal_count
		 FROM leases WHERE task_id = ? AND phase = ?`, taskID, ph.String())
	return scanLease(row)
}

// Mutate applies fn to the current lease row under a write transaction.
func (s *SQLiteStore) Mutate(ctx context.Context, taskID string, ph phase.Phase, fn func(cur *Lease) (*Lease, error)) error {
	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Taking the write lock up front serializes racing mutators.
	if _, err := tx.ExecContext(ctx,
		`UPDATE leases SET task_id = task_id WHERE task_id = ? AND phase = ?`,
		taskID, ph.String()); err != nil {
		return fmt.Errorf("lock lease row: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT task_id, phase, holder, acquired_at, expires_at, renewal_count
		 FROM leases WHERE task_id = ? AND phase = ?`, taskID, ph.String())
	cur, err := scanLease(row)
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	switch {
	case next == nil && cur != nil:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM leases WHERE task_id = ? AND phase = ?`, taskID, ph.String())
	case next != nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO leases (task_id, phase, holder, acquired_at, expires_at, renewal_count)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(task_id, phase) DO UPDATE SET
			   holder = excluded.holder,
			   acquired_at = excluded.acquired_at,
			   expires_at = excluded.expires_at,
			   renewal_count = excluded.renewal_count`,
			next.TaskID, next.Phase.String(), next.Holder,
			next.AcquiredAt.UTC(), next.ExpiresAt.UTC(), next.RenewalCount)
	}
	if err != nil {
		return fmt.Errorf("writing lease: %w", err)
	}

	return tx.Commit()
}

// List returns all lease records.
func (s *SQLiteStore) List(ctx context.Context) ([]Lease, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT task_id, phase, holder, acquired_at, expires_at, renewal_count
		 FROM leases ORDER BY task_id, phase`)
	if err != nil {
		return nil, fmt.Errorf("listing leases: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var l Lease
		var ph string
		if err := rows.Scan(&l.TaskID, &ph, &l.Holder, &l.AcquiredAt, &l.ExpiresAt, &l.RenewalCount); err != nil {
			return nil, fmt.Errorf("scanning lease: %w", err)
		}
		l.Phase = phase.Phase(ph)
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// DeleteExpired removes all leases that lapsed before now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM leases WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanLease(row *sql.Row) (*Lease, error) {
	var l Lease
	var ph string
	err := row.Scan(&l.TaskID, &ph, &l.Holder, &l.AcquiredAt, &l.ExpiresAt, &l.RenewalCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lease: %w", err)
	}
	l.Phase = phase.Phase(ph)
	return &l, nil
}
