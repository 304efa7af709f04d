package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/phasegate/internal/db"
)

// SQLiteRegistry persists tasks and audit notes in the shared database.
type SQLiteRegistry struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteRegistry creates a registry over the given database.
func NewSQLiteRegistry(d *db.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: d, now: time.Now}
}

// Create inserts a new task. The status defaults to pending when empty.
func (r *SQLiteRegistry) Create(ctx context.Context, task Task) error {
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Metadata == nil {
		task.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("encoding task metadata: %w", err)
	}

	now := r.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	_, err = r.db.SQL().ExecContext(ctx,
		`INSERT INTO tasks (id, title, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Status, string(meta), task.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// Get returns the task with the given ID.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Task, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		`SELECT id, title, status, metadata, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// Transition updates the task's status and merges metadata into the existing
// map. The whole update runs in one transaction.
func (r *SQLiteRegistry) Transition(ctx context.Context, id, status string, metadata map[string]string) error {
	tx, err := r.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM tasks WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading task: %w", err)
	}

	merged := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		return fmt.Errorf("decoding task metadata: %w", err)
	}
	for k, v := range metadata {
		merged[k] = v
	}
	meta, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding task metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		status, string(meta), r.now().UTC(), id); err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	return tx.Commit()
}

// AddAuditNote attaches a note to the task.
func (r *SQLiteRegistry) AddAuditNote(ctx context.Context, taskID, note string) error {
	_, err := r.db.SQL().ExecContext(ctx,
		`INSERT INTO audit_notes (task_id, note, created_at) VALUES (?, ?, ?)`,
		taskID, note, r.now().UTC())
	if err != nil {
		return fmt.Errorf("adding audit note: %w", err)
	}
	return nil
}

// AuditNotes returns the task's notes in insertion order.
func (r *SQLiteRegistry) AuditNotes(ctx context.Context, taskID string) ([]AuditNote, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		`SELECT id, task_id, note, created_at FROM audit_notes
		 WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing audit notes: %w", err)
	}
	defer rows.Close()

	var notes []AuditNote
	for rows.Next() {
		var n AuditNote
		if err := rows.Scan(&n.ID, &n.TaskID, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// List returns all tasks ordered by creation time.
func (r *SQLiteRegistry) List(ctx context.Context) ([]Task, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		`SELECT id, title, status, metadata, created_at, updated_at
		 FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var meta string
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decoding task metadata: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var meta string
	err := row.Scan(&t.ID, &t.Title, &t.Status, &meta, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("scanning task: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return Task{}, fmt.Errorf("decoding task metadata: %w", err)
	}
	return t, nil
}
