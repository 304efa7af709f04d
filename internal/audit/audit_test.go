package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/phasegate/internal/telemetry"
)

// Trail must satisfy the engine's sink boundary.
var _ telemetry.Sink = (*Trail)(nil)

func TestTrailAppendsEvents(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir)
	if err != nil {
		t.Fatalf("NewTrail() error: %v", err)
	}
	defer trail.Close()

	trail.TransitionDecision("block", "IMPLEMENT", "gate_failure")
	trail.SkipAttempt("SPEC", "IMPLEMENT")
	trail.DriftDetected("high")
	trail.LeasesSwept(3)

	files, err := trail.Files()
	if err != nil {
		t.Fatalf("Files() error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Files() = %d files, want 1", len(files))
	}

	events, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents() error: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("ReadEvents() = %d events, want 4", len(events))
	}

	if events[0].EventType != EventTransition || events[0].Reason != "gate_failure" {
		t.Errorf("events[0] = %+v, want transition_decision with gate_failure", events[0])
	}
	if events[1].ToPhase != "IMPLEMENT" {
		t.Errorf("events[1].ToPhase = %q, want IMPLEMENT", events[1].ToPhase)
	}
	if events[2].Severity != "high" {
		t.Errorf("events[2].Severity = %q, want high", events[2].Severity)
	}
	if events[3].Count != 3 {
		t.Errorf("events[3].Count = %d, want 3", events[3].Count)
	}
	for i, ev := range events {
		if ev.SessionID == "" {
			t.Errorf("events[%d] has no session id", i)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("events[%d] has no timestamp", i)
		}
	}
}

func TestTrailSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := NewTrail(dir)
	if err != nil {
		t.Fatal(err)
	}
	first.LeaseContention("VERIFY")
	first.Close()

	second, err := NewTrail(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	second.LeaseContention("REVIEW")

	files, err := second.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("Files() = %d files, want 1 appended file", len(files))
	}

	events, err := ReadEvents(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("ReadEvents() = %d events, want 2", len(events))
	}
	if events[0].SessionID == events[1].SessionID {
		t.Error("events from separate processes share a session id")
	}
}

func TestReadEventsSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-2026-08-23.jsonl")
	content := `{"event_type":"drift_detected","severity":"low"}
not json at all
{"event_type":"lease_sweep","count":1}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ReadEvents() = %d events, want 2 with malformed line skipped", len(events))
	}
}

func TestTrailDirPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	trail, err := NewTrail(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("audit dir permissions = %o, want 0700", perm)
	}
}
