// Package audit writes engine decisions to an append-only JSONL trail.
// The trail complements the per-task ledger: the ledger proves what happened
// to one task, the trail shows an operator everything the engine decided,
// including decisions that never produced a ledger entry.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcus/phasegate/internal/logging"
)

// EventType categorizes trail events.
type EventType string

const (
	EventTransition      EventType = "transition_decision"
	EventSkipAttempt     EventType = "skip_attempt"
	EventLeaseContention EventType = "lease_contention"
	EventDrift           EventType = "drift_detected"
	EventTrustUpdate     EventType = "trust_updated"
	EventLeaseSweep      EventType = "lease_sweep"
)

// Event is a single trail entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Phase     string    `json:"phase,omitempty"`
	ToPhase   string    `json:"to_phase,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Count     int       `json:"count,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Trail writes events to a daily-rotated, append-only log file. It implements
// telemetry.Sink so engine decisions flow into it without extra plumbing.
type Trail struct {
	dir       string
	sessionID string
	mu        sync.Mutex
	file      *os.File
	log       *logging.Logger
}

// NewTrail opens the trail in dir, creating it with restricted permissions.
func NewTrail(dir string) (*Trail, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}

	t := &Trail{
		dir:       dir,
		sessionID: fmt.Sprintf("sess-%d", time.Now().UnixNano()),
		log:       logging.Component("audit"),
	}
	if err := t.openFile(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trail) currentPath() string {
	return filepath.Join(t.dir, fmt.Sprintf("audit-%s.jsonl", time.Now().Format("2006-01-02")))
}

func (t *Trail) openFile() error {
	f, err := os.OpenFile(t.currentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit trail: %w", err)
	}
	t.file = f
	return nil
}

// Log appends one event, rotating to a new file when the day changed.
func (t *Trail) Log(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil || t.file.Name() != t.currentPath() {
		if t.file != nil {
			if err := t.file.Close(); err != nil {
				return fmt.Errorf("closing old audit trail: %w", err)
			}
		}
		if err := t.openFile(); err != nil {
			return err
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.SessionID = t.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.file.Write(data); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return t.file.Sync()
}

// Close closes the trail file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

// Files returns every trail file in the audit directory.
func (t *Trail) Files() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("reading audit dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(t.dir, entry.Name()))
		}
	}
	return files, nil
}

// logged wraps Log for the sink methods: the trail must never take the engine
// down, so write failures are logged and swallowed.
func (t *Trail) logged(event Event) {
	if err := t.Log(event); err != nil {
		t.log.WarnCtx("audit write failed", map[string]any{"error": err.Error()})
	}
}

func (t *Trail) TransitionDecision(decision, fromPhase, reason string) {
	t.logged(Event{EventType: EventTransition, Phase: fromPhase, Decision: decision, Reason: reason})
}

func (t *Trail) SkipAttempt(fromPhase, toPhase string) {
	t.logged(Event{EventType: EventSkipAttempt, Phase: fromPhase, ToPhase: toPhase})
}

func (t *Trail) LeaseContention(phase string) {
	t.logged(Event{EventType: EventLeaseContention, Phase: phase})
}

func (t *Trail) DriftDetected(severity string) {
	t.logged(Event{EventType: EventDrift, Severity: severity})
}

func (t *Trail) TrustUpdated(phase, outcome string) {
	t.logged(Event{EventType: EventTrustUpdate, Phase: phase, Outcome: outcome})
}

func (t *Trail) LeasesSwept(count int) {
	t.logged(Event{EventType: EventLeaseSweep, Count: count})
}

// ReadEvents parses one trail file. Malformed lines are skipped; the trail is
// diagnostic, not evidentiary.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}

	var events []Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// splitLines splits data by newlines without allocating strings.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0

	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}

	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
