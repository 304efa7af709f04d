package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry for tests and ephemeral runs.
type MemoryRegistry struct {
	mu     sync.Mutex
	tasks  map[string]Task
	notes  map[string][]AuditNote
	noteID int64
	now    func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tasks: make(map[string]Task),
		notes: make(map[string][]AuditNote),
		now:   time.Now,
	}
}

func (r *MemoryRegistry) Create(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Metadata == nil {
		task.Metadata = map[string]string{}
	}
	now := r.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	r.tasks[task.ID] = task
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return cloneTask(task), nil
}

func (r *MemoryRegistry) Transition(_ context.Context, id, status string, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task = cloneTask(task)
	task.Status = status
	for k, v := range metadata {
		task.Metadata[k] = v
	}
	task.UpdatedAt = r.now().UTC()
	r.tasks[id] = task
	return nil
}

func (r *MemoryRegistry) AddAuditNote(_ context.Context, taskID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.noteID++
	r.notes[taskID] = append(r.notes[taskID], AuditNote{
		ID:        r.noteID,
		TaskID:    taskID,
		Note:      note,
		CreatedAt: r.now().UTC(),
	})
	return nil
}

func (r *MemoryRegistry) AuditNotes(_ context.Context, taskID string) ([]AuditNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]AuditNote(nil), r.notes[taskID]...), nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func cloneTask(t Task) Task {
	meta := make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		meta[k] = v
	}
	t.Metadata = meta
	return t
}
