// Package evidence collects proof artifacts produced during a phase and
// decides whether the accumulated bundle satisfies the phase's completion
// criteria. A session watches its directory while collection is open;
// finalization always re-scans the directory so bundles survive process
// restarts.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
)

// Bundle is the finalized evidence for one phase of one task.
type Bundle struct {
	MeetsCompletionCriteria bool     `json:"meets_completion_criteria"`
	MissingEvidence         []string `json:"missing_evidence,omitempty"`
	Artifacts               []string `json:"artifacts"`
}

// Kind classifies an artifact by extension: "doc" for prose, "report" for
// structured output, "log" for captured output, "code" otherwise-known
// source, "misc" for everything else.
func Kind(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".rst":
		return "doc"
	case ".json", ".xml", ".junit":
		return "report"
	case ".log", ".out":
		return "log"
	case ".go", ".py", ".js", ".ts", ".rs", ".java", ".sh":
		return "code"
	default:
		return "misc"
	}
}

type sessionKey struct {
	taskID string
	phase  phase.Phase
}

type session struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Collector manages evidence sessions rooted under a shared directory.
type Collector struct {
	rootDir  string
	required map[phase.Phase][]string // required evidence kinds per phase

	mu       sync.Mutex
	sessions map[sessionKey]*session

	log *logging.Logger
}

// DefaultRequiredKinds is the per-phase evidence requirement used when none
// is configured. Early phases produce prose; VERIFY must produce a report.
func DefaultRequiredKinds() map[phase.Phase][]string {
	return map[phase.Phase][]string{
		phase.Strategize: {"doc"},
		phase.Spec:       {"doc"},
		phase.Plan:       {"doc"},
		phase.Think:      {"doc"},
		phase.Implement:  {"code"},
		phase.Verify:     {"report"},
		phase.Review:     {"doc"},
		phase.PR:         {"doc"},
		phase.Monitor:    {"report"},
	}
}

// NewCollector creates an evidence collector rooted at rootDir. A nil
// required map falls back to DefaultRequiredKinds.
func NewCollector(rootDir string, required map[phase.Phase][]string) *Collector {
	if required == nil {
		required = DefaultRequiredKinds()
	}
	return &Collector{
		rootDir:  rootDir,
		required: required,
		sessions: make(map[sessionKey]*session),
		log:      logging.Component("evidence"),
	}
}

// RequiredKinds returns the evidence kinds a phase must produce.
func (c *Collector) RequiredKinds(ph phase.Phase) []string {
	return append([]string(nil), c.required[ph]...)
}

// Dir returns the session directory for (taskID, ph).
func (c *Collector) Dir(taskID string, ph phase.Phase) string {
	return filepath.Join(c.rootDir, taskID, ph.String())
}

// StartCollection opens an evidence session: the directory is created and a
// watcher logs artifacts as they land. Re-opening an already-open session is
// a no-op so a blocked transition can simply resume collecting.
func (c *Collector) StartCollection(_ context.Context, taskID string, ph phase.Phase) error {
	dir := c.Dir(taskID, ph)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating evidence dir: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey{taskID, ph}
	if _, ok := c.sessions[key]; ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating evidence watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching evidence dir: %w", err)
	}

	s := &session{watcher: watcher, done: make(chan struct{})}
	c.sessions[key] = s

	go c.watch(taskID, ph, s)

	c.log.DebugCtx("evidence collection opened", map[string]any{
		"task_id": taskID, "phase": ph.String(), "dir": dir,
	})
	return nil
}

// watch logs artifact arrivals until the session is finalized.
func (c *Collector) watch(taskID string, ph phase.Phase, s *session) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				c.log.DebugCtx("evidence artifact observed", map[string]any{
					"task_id": taskID,
					"phase":   ph.String(),
					"file":    filepath.Base(event.Name),
					"kind":    Kind(event.Name),
				})
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			c.log.WarnCtx("evidence watcher error", map[string]any{
				"task_id": taskID, "phase": ph.String(), "error": err.Error(),
			})
		}
	}
}

// Finalize closes the session (if one is open in this process) and evaluates
// the bundle from a fresh directory scan. A bundle missing any required
// evidence kind does not meet completion criteria.
func (c *Collector) Finalize(_ context.Context, taskID string, ph phase.Phase) (Bundle, error) {
	c.mu.Lock()
	key := sessionKey{taskID, ph}
	if s, ok := c.sessions[key]; ok {
		close(s.done)
		_ = s.watcher.Close()
		delete(c.sessions, key)
	}
	c.mu.Unlock()

	dir := c.Dir(taskID, ph)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return Bundle{}, fmt.Errorf("scanning evidence dir: %w", err)
		}
	}

	kinds := make(map[string]bool)
	var artifacts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifacts = append(artifacts, entry.Name())
		kinds[Kind(entry.Name())] = true
	}

	var missing []string
	for _, kind := range c.required[ph] {
		if !kinds[kind] {
			missing = append(missing, kind)
		}
	}

	return Bundle{
		MeetsCompletionCriteria: len(missing) == 0,
		MissingEvidence:         missing,
		Artifacts:               artifacts,
	}, nil
}
