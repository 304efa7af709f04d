package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/phasegate/internal/evidence"
)

func writeEvidence(t *testing.T, root, taskID, phase, name, content string) {
	t.Helper()
	dir := filepath.Join(root, taskID, phase)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyPasses(t *testing.T) {
	root := t.TempDir()
	writeEvidence(t, root, "task-1", "VERIFY", "results.json", `{"tests": "green"}`)
	writeEvidence(t, root, "task-1", "MONITOR", "report.json", `{"status": "healthy"}`)

	c := NewChecklist(root)
	passed, report, err := c.Verify(context.Background(), "task-1", evidence.Bundle{
		MeetsCompletionCriteria: true,
		Artifacts:               []string{"report.json"},
	})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !passed {
		t.Errorf("Verify() failed: %s", report)
	}
}

func TestVerifyRejectsIncompleteBundle(t *testing.T) {
	c := NewChecklist(t.TempDir())
	passed, report, err := c.Verify(context.Background(), "task-1", evidence.Bundle{
		MeetsCompletionCriteria: false,
		MissingEvidence:         []string{"report"},
	})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if passed {
		t.Error("Verify() passed with incomplete bundle")
	}
	if !strings.Contains(report, "missing report") {
		t.Errorf("report = %q, want missing evidence named", report)
	}
}

func TestVerifyRejectsPlaceholderMarkers(t *testing.T) {
	root := t.TempDir()
	writeEvidence(t, root, "task-1", "IMPLEMENT", "notes.md", "handler is a PLACEHOLDER for now")

	c := NewChecklist(root)
	passed, report, err := c.Verify(context.Background(), "task-1", evidence.Bundle{
		MeetsCompletionCriteria: true,
	})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if passed {
		t.Error("Verify() passed with placeholder marker in evidence")
	}
	if !strings.Contains(report, "notes.md") {
		t.Errorf("report = %q, want offending artifact named", report)
	}
}

func TestVerifyMissingDirIsNotAnError(t *testing.T) {
	c := NewChecklist(filepath.Join(t.TempDir(), "nonexistent"))
	passed, _, err := c.Verify(context.Background(), "task-1", evidence.Bundle{
		MeetsCompletionCriteria: true,
	})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !passed {
		t.Error("Verify() failed for task with no evidence tree but complete bundle")
	}
}
