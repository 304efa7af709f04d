package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

func appendN(t *testing.T, l *Ledger, taskID string, n int) []Entry {
	t.Helper()
	ctx := context.Background()

	entries := make([]Entry, 0, n)
	from := phase.Phase("")
	for i := 0; i < n && i < len(phase.Sequence); i++ {
		to := phase.Sequence[i]
		e, err := l.Append(ctx, Draft{
			TaskID:    taskID,
			FromPhase: from,
			ToPhase:   to,
			Validated: true,
			AgentType: "test",
		})
		if err != nil {
			t.Fatalf("Append() #%d error: %v", i, err)
		}
		entries = append(entries, e)
		from = to
	}
	return entries
}

func TestAppendLinksChain(t *testing.T) {
	l := New(NewMemoryStore())
	entries := appendN(t, l, "task-1", 3)

	if entries[0].PrevHash != GenesisSeed("task-1") {
		t.Errorf("first entry prev hash = %s, want genesis seed", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("entry %d prev hash does not link to predecessor", i)
		}
	}
}

func TestVerifyChainClean(t *testing.T) {
	l := New(NewMemoryStore())
	appendN(t, l, "task-1", 4)

	if err := l.VerifyChain(context.Background(), "task-1"); err != nil {
		t.Errorf("VerifyChain() on untampered chain: %v", err)
	}
}

func TestVerifyChainEmptyTask(t *testing.T) {
	l := New(NewMemoryStore())
	if err := l.VerifyChain(context.Background(), "never-seen"); err != nil {
		t.Errorf("VerifyChain() on empty chain: %v", err)
	}
}

func TestVerifyChainDetectsContentTamper(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	appendN(t, l, "task-1", 3)

	store.Corrupt("task-1", 1, func(e *Entry) {
		e.ToPhase = phase.Monitor
	})

	err := l.VerifyChain(context.Background(), "task-1")
	var tamper *TamperError
	if !errors.As(err, &tamper) {
		t.Fatalf("VerifyChain() = %v, want *TamperError", err)
	}
	if tamper.Index != 1 {
		t.Errorf("tamper index = %d, want 1", tamper.Index)
	}
}

func TestVerifyChainDetectsLinkTamper(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	appendN(t, l, "task-1", 3)

	store.Corrupt("task-1", 2, func(e *Entry) {
		e.PrevHash = GenesisSeed("task-1")
	})

	err := l.VerifyChain(context.Background(), "task-1")
	var tamper *TamperError
	if !errors.As(err, &tamper) {
		t.Fatalf("VerifyChain() = %v, want *TamperError", err)
	}
	if tamper.Index != 2 {
		t.Errorf("tamper index = %d, want 2", tamper.Index)
	}
}

func TestChainsAreIndependentPerTask(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	appendN(t, l, "task-1", 2)
	appendN(t, l, "task-2", 2)

	store.Corrupt("task-2", 0, func(e *Entry) {
		e.AgentType = "evil"
	})

	if err := l.VerifyChain(context.Background(), "task-1"); err != nil {
		t.Errorf("task-1 chain affected by task-2 tamper: %v", err)
	}
	if err := l.VerifyChain(context.Background(), "task-2"); err == nil {
		t.Error("task-2 tamper not detected")
	}
}

func TestComputeHashStable(t *testing.T) {
	e := Entry{
		TaskID:    "task-1",
		FromPhase: phase.Spec,
		ToPhase:   phase.Plan,
		Artifacts: []string{"a.md"},
		Validated: true,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		AgentType: "test",
		PrevHash:  GenesisSeed("task-1"),
	}

	h1, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash() error: %v", err)
	}
	h2, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash() error: %v", err)
	}
	if h1 != h2 {
		t.Error("ComputeHash() not deterministic")
	}

	// Nil and empty artifact slices hash identically.
	e.Artifacts = nil
	h3, _ := ComputeHash(e)
	e.Artifacts = []string{}
	h4, _ := ComputeHash(e)
	if h3 != h4 {
		t.Error("nil vs empty artifacts produce different hashes")
	}

	// Provenance presence changes the hash.
	e.Provenance = &Provenance{PersonaHash: "p1"}
	h5, _ := ComputeHash(e)
	if h5 == h3 {
		t.Error("provenance not included in hash")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer d.Close()

	l := New(NewSQLiteStore(d))
	ctx := context.Background()

	_, err = l.Append(ctx, Draft{
		TaskID:    "task-1",
		ToPhase:   phase.Strategize,
		Validated: true,
		AgentType: "worker",
		Artifacts: []string{"strategy.md"},
		Provenance: &Provenance{
			PersonaHash: "abc",
			PromptHash:  "def",
			VariantID:   "v1",
		},
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	_, err = l.Append(ctx, Draft{
		TaskID:    "task-1",
		FromPhase: phase.Strategize,
		ToPhase:   phase.Spec,
		Validated: true,
		AgentType: "worker",
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	// Entries must round-trip byte-exactly for verification to hold.
	if err := l.VerifyChain(ctx, "task-1"); err != nil {
		t.Errorf("VerifyChain() after sqlite round-trip: %v", err)
	}

	entries, err := l.Entries(ctx, "task-1")
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Provenance == nil || entries[0].Provenance.VariantID != "v1" {
		t.Error("provenance lost in sqlite round-trip")
	}
	if entries[1].Provenance != nil {
		t.Error("absent provenance came back non-nil")
	}
}
