package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus/phasegate/internal/db"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()

	dbh, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sqlite": NewSQLiteRegistry(dbh),
	}
}

func TestCreateAndGet(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := reg.Create(ctx, Task{ID: "task-1", Title: "wire retry logic"})
			if err != nil {
				t.Fatalf("Create() error: %v", err)
			}

			task, err := reg.Get(ctx, "task-1")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if task.Status != StatusPending {
				t.Errorf("status = %q, want %q", task.Status, StatusPending)
			}
			if task.Title != "wire retry logic" {
				t.Errorf("title = %q", task.Title)
			}
		})
	}
}

func TestGetUnknownTask(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Get(context.Background(), "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestTransitionMergesMetadata(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := reg.Create(ctx, Task{ID: "task-1", Metadata: map[string]string{"origin": "backlog"}}); err != nil {
				t.Fatalf("Create() error: %v", err)
			}

			if err := reg.Transition(ctx, "task-1", StatusActive, map[string]string{"cycle": "1"}); err != nil {
				t.Fatalf("Transition() error: %v", err)
			}
			if err := reg.Transition(ctx, "task-1", StatusDone, map[string]string{"final_phase": "MONITOR"}); err != nil {
				t.Fatalf("Transition() error: %v", err)
			}

			task, err := reg.Get(ctx, "task-1")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if task.Status != StatusDone {
				t.Errorf("status = %q, want %q", task.Status, StatusDone)
			}
			for k, want := range map[string]string{"origin": "backlog", "cycle": "1", "final_phase": "MONITOR"} {
				if task.Metadata[k] != want {
					t.Errorf("metadata[%q] = %q, want %q", k, task.Metadata[k], want)
				}
			}
		})
	}
}

func TestTransitionUnknownTask(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			err := reg.Transition(context.Background(), "nope", StatusDone, nil)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Transition() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestAuditNotesOrdered(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := reg.Create(ctx, Task{ID: "task-1"}); err != nil {
				t.Fatalf("Create() error: %v", err)
			}

			for _, note := range []string{"drift detected: high", "gaming probe flagged work"} {
				if err := reg.AddAuditNote(ctx, "task-1", note); err != nil {
					t.Fatalf("AddAuditNote() error: %v", err)
				}
			}

			notes, err := reg.AuditNotes(ctx, "task-1")
			if err != nil {
				t.Fatalf("AuditNotes() error: %v", err)
			}
			if len(notes) != 2 {
				t.Fatalf("notes = %d, want 2", len(notes))
			}
			if notes[0].Note != "drift detected: high" {
				t.Errorf("notes out of order: %q first", notes[0].Note)
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"task-a", "task-b"} {
				if err := reg.Create(ctx, Task{ID: id}); err != nil {
					t.Fatalf("Create(%s) error: %v", id, err)
				}
			}
			tasks, err := reg.List(ctx)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(tasks) != 2 {
				t.Errorf("tasks = %d, want 2", len(tasks))
			}
		})
	}
}
