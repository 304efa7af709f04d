// Package verify implements the comprehensive final verification run at the
// terminal phase: the evidence bundle's own completeness plus a checklist of
// mandatory requirements over the accumulated artifacts.
package verify

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/phasegate/internal/evidence"
)

// placeholder markers that disqualify a task from completion when found in
// its evidence artifacts.
var placeholderMarkers = []string{
	"PLACEHOLDER",
	"NOT IMPLEMENTED",
	"FIXME",
}

// Checklist verifies a task's accumulated evidence directory before the task
// may complete.
type Checklist struct {
	rootDir string
}

// NewChecklist creates a final verifier over the evidence root directory.
func NewChecklist(rootDir string) *Checklist {
	return &Checklist{rootDir: rootDir}
}

// Verify runs the checklist: the finalized bundle must meet its own
// completion criteria, and no artifact across the task's evidence tree may
// carry a placeholder marker. The report names every violation.
func (c *Checklist) Verify(_ context.Context, taskID string, bundle evidence.Bundle) (bool, string, error) {
	var violations []string

	if !bundle.MeetsCompletionCriteria {
		violations = append(violations,
			fmt.Sprintf("evidence bundle incomplete: missing %s", strings.Join(bundle.MissingEvidence, ", ")))
	}

	taskDir := filepath.Join(c.rootDir, taskID)
	err := filepath.WalkDir(taskDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		marker, found, scanErr := scanForMarkers(path)
		if scanErr != nil {
			return scanErr
		}
		if found {
			rel, _ := filepath.Rel(taskDir, path)
			violations = append(violations, fmt.Sprintf("placeholder marker %q in %s", marker, rel))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return false, "", fmt.Errorf("walking evidence tree: %w", err)
	}

	if len(violations) > 0 {
		return false, "final verification failed:\n  " + strings.Join(violations, "\n  "), nil
	}
	return true, fmt.Sprintf("final verification passed: %d artifacts checked", len(bundle.Artifacts)), nil
}

func scanForMarkers(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.ToUpper(scanner.Text())
		for _, marker := range placeholderMarkers {
			if strings.Contains(line, marker) {
				return marker, true, nil
			}
		}
	}
	// Binary artifacts that defeat the scanner are not checklist failures.
	if err := scanner.Err(); err != nil && err != bufio.ErrTooLong {
		return "", false, err
	}
	return "", false, nil
}
