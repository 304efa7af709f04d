// Package registry tracks the tasks governed by the engine: their lifecycle
// status, free-form metadata, and the audit notes the sequencer attaches when
// something suspicious happens during a cycle.
package registry

import (
	"context"
	"errors"
	"time"
)

// Task lifecycle statuses. The engine only ever moves a task forward through
// these; the registry itself does not enforce an ordering.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when a task ID is unknown.
var ErrNotFound = errors.New("task not found")

// Task is one unit of governed work.
type Task struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// AuditNote is an annotation the engine attaches to a task, e.g. when a
// forced backtrack fires or an advisory probe flags the work.
type AuditNote struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the task store boundary. Transition merges metadata into the
// task's existing metadata rather than replacing it.
type Registry interface {
	Create(ctx context.Context, task Task) error
	Get(ctx context.Context, id string) (Task, error)
	Transition(ctx context.Context, id, status string, metadata map[string]string) error
	AddAuditNote(ctx context.Context, taskID, note string) error
	AuditNotes(ctx context.Context, taskID string) ([]AuditNote, error)
	List(ctx context.Context) ([]Task, error)
}
