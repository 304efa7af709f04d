package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/phasegate/internal/phase"
)

func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("evidence"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := map[string]string{
		"design.md":     "doc",
		"report.json":   "report",
		"run.log":       "log",
		"main.go":       "code",
		"snapshot.tar":  "misc",
		"NOTES.TXT":     "doc",
		"results.junit": "report",
	}
	for name, want := range cases {
		if got := Kind(name); got != want {
			t.Errorf("Kind(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFinalizeCompleteBundle(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	ctx := context.Background()

	if err := c.StartCollection(ctx, "task-1", phase.Verify); err != nil {
		t.Fatalf("StartCollection() error: %v", err)
	}
	writeArtifact(t, c.Dir("task-1", phase.Verify), "test-results.json")

	bundle, err := c.Finalize(ctx, "task-1", phase.Verify)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if !bundle.MeetsCompletionCriteria {
		t.Errorf("bundle incomplete, missing %v", bundle.MissingEvidence)
	}
	if len(bundle.Artifacts) != 1 {
		t.Errorf("artifacts = %v, want one entry", bundle.Artifacts)
	}
}

func TestFinalizeReportsMissingKinds(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	ctx := context.Background()

	if err := c.StartCollection(ctx, "task-1", phase.Verify); err != nil {
		t.Fatalf("StartCollection() error: %v", err)
	}
	// A log alone does not satisfy VERIFY, which requires a report.
	writeArtifact(t, c.Dir("task-1", phase.Verify), "run.log")

	bundle, err := c.Finalize(ctx, "task-1", phase.Verify)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if bundle.MeetsCompletionCriteria {
		t.Error("bundle met criteria without a report artifact")
	}
	if len(bundle.MissingEvidence) != 1 || bundle.MissingEvidence[0] != "report" {
		t.Errorf("missing = %v, want [report]", bundle.MissingEvidence)
	}
}

// An incomplete bundle can be topped up and finalized again: the session
// re-opens and the later scan sees the new artifact.
func TestReopenAfterIncompleteFinalize(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	ctx := context.Background()

	if err := c.StartCollection(ctx, "task-1", phase.Verify); err != nil {
		t.Fatalf("StartCollection() error: %v", err)
	}
	bundle, err := c.Finalize(ctx, "task-1", phase.Verify)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if bundle.MeetsCompletionCriteria {
		t.Fatal("empty bundle met completion criteria")
	}

	if err := c.StartCollection(ctx, "task-1", phase.Verify); err != nil {
		t.Fatalf("StartCollection() after finalize error: %v", err)
	}
	writeArtifact(t, c.Dir("task-1", phase.Verify), "test-results.json")

	bundle, err = c.Finalize(ctx, "task-1", phase.Verify)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if !bundle.MeetsCompletionCriteria {
		t.Errorf("topped-up bundle incomplete, missing %v", bundle.MissingEvidence)
	}
}

// Finalize must work from the directory alone so evidence produced by a
// different process still counts.
func TestFinalizeWithoutSession(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	writeArtifact(t, c.Dir("task-1", phase.Plan), "plan.md")

	bundle, err := c.Finalize(context.Background(), "task-1", phase.Plan)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if !bundle.MeetsCompletionCriteria {
		t.Errorf("bundle incomplete, missing %v", bundle.MissingEvidence)
	}
}

func TestStartCollectionIdempotent(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	ctx := context.Background()

	if err := c.StartCollection(ctx, "task-1", phase.Plan); err != nil {
		t.Fatalf("StartCollection() error: %v", err)
	}
	if err := c.StartCollection(ctx, "task-1", phase.Plan); err != nil {
		t.Fatalf("second StartCollection() error: %v", err)
	}
	if _, err := c.Finalize(ctx, "task-1", phase.Plan); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
}

func TestCustomRequiredKinds(t *testing.T) {
	required := map[phase.Phase][]string{
		phase.Implement: {"code", "log"},
	}
	c := NewCollector(t.TempDir(), required)

	writeArtifact(t, c.Dir("task-1", phase.Implement), "patch.go")

	bundle, err := c.Finalize(context.Background(), "task-1", phase.Implement)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if bundle.MeetsCompletionCriteria {
		t.Error("bundle met criteria without required log artifact")
	}
	if len(bundle.MissingEvidence) != 1 || bundle.MissingEvidence[0] != "log" {
		t.Errorf("missing = %v, want [log]", bundle.MissingEvidence)
	}
}
