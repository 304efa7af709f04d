// Package ledger implements the append-only, hash-chained transition log.
// Every phase transition for a task links to its predecessor by hash;
// replaying the chain detects any mutation of stored entries. Append is the
// only mutation. Entries are never updated or deleted.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
)

// Provenance is the optional identity sub-record attached to an entry when
// the caller supplies worker provenance. Absence of the whole record is
// distinct from absence of a single field.
type Provenance struct {
	PersonaHash string `json:"persona_hash,omitempty"`
	PromptHash  string `json:"prompt_hash,omitempty"`
	VariantID   string `json:"variant_id,omitempty"`
}

// Entry is one immutable transition record. FromPhase is empty for the
// genesis entry written by StartCycle.
type Entry struct {
	TaskID     string      `json:"task_id"`
	FromPhase  phase.Phase `json:"from_phase"`
	ToPhase    phase.Phase `json:"to_phase"`
	Artifacts  []string    `json:"artifacts"`
	Validated  bool        `json:"validated"`
	Backtrack  bool        `json:"backtrack"`
	Timestamp  time.Time   `json:"timestamp"`
	AgentType  string      `json:"agent_type"`
	Provenance *Provenance `json:"provenance,omitempty"`
	PrevHash   string      `json:"prev_hash"`
	Hash       string      `json:"hash"`
}

// Draft carries the caller-supplied fields of an entry; the ledger fills in
// timestamp, prev hash, and hash on append.
type Draft struct {
	TaskID     string
	FromPhase  phase.Phase
	ToPhase    phase.Phase
	Artifacts  []string
	Validated  bool
	Backtrack  bool
	AgentType  string
	Provenance *Provenance
}

// Store persists entries. Append must be atomic with respect to the task's
// chain tail: fn receives the current last entry (nil for a fresh task),
// and the returned entry is committed in the same transaction.
type Store interface {
	Append(ctx context.Context, taskID string, fn func(last *Entry) (Entry, error)) (Entry, error)
	Entries(ctx context.Context, taskID string) ([]Entry, error)
}

// TamperError reports a broken hash chain. It is fatal: the ledger never
// attempts repair.
type TamperError struct {
	TaskID string
	Index  int
	Reason string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("ledger tamper detected for task %s at entry %d: %s", e.TaskID, e.Index, e.Reason)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(l *Ledger) {
		l.nowFunc = f
	}
}

// Ledger appends and verifies hash-chained transition entries.
type Ledger struct {
	store   Store
	log     *logging.Logger
	nowFunc func() time.Time
}

// New creates a ledger over the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		log:     logging.Component("ledger"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenesisSeed is the prev-hash anchor for a task's first entry.
func GenesisSeed(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	return hex.EncodeToString(sum[:])
}

// Append completes the draft against the task's current chain tail and
// stores it. The returned entry carries the computed hash.
func (l *Ledger) Append(ctx context.Context, d Draft) (Entry, error) {
	entry, err := l.store.Append(ctx, d.TaskID, func(last *Entry) (Entry, error) {
		prevHash := GenesisSeed(d.TaskID)
		if last != nil {
			prevHash = last.Hash
		}

		e := Entry{
			TaskID:     d.TaskID,
			FromPhase:  d.FromPhase,
			ToPhase:    d.ToPhase,
			Artifacts:  d.Artifacts,
			Validated:  d.Validated,
			Backtrack:  d.Backtrack,
			Timestamp:  l.nowFunc().UTC(),
			AgentType:  d.AgentType,
			Provenance: d.Provenance,
			PrevHash:   prevHash,
		}
		hash, err := ComputeHash(e)
		if err != nil {
			return Entry{}, err
		}
		e.Hash = hash
		return e, nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("appending ledger entry: %w", err)
	}

	l.log.DebugCtx("ledger entry appended", map[string]any{
		"task_id": entry.TaskID,
		"from":    entry.FromPhase.String(),
		"to":      entry.ToPhase.String(),
		"hash":    entry.Hash,
	})
	return entry, nil
}

// Entries returns a task's chain in append order.
func (l *Ledger) Entries(ctx context.Context, taskID string) ([]Entry, error) {
	return l.store.Entries(ctx, taskID)
}

// VerifyChain recomputes every hash in a task's chain from scratch and
// compares against the stored values. Any mismatch returns a *TamperError;
// the chain is never silently corrected.
func (l *Ledger) VerifyChain(ctx context.Context, taskID string) error {
	entries, err := l.store.Entries(ctx, taskID)
	if err != nil {
		return fmt.Errorf("reading chain: %w", err)
	}

	prevHash := GenesisSeed(taskID)
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return &TamperError{TaskID: taskID, Index: i, Reason: "prev hash link broken"}
		}

		computed, err := ComputeHash(e)
		if err != nil {
			return fmt.Errorf("recomputing hash at entry %d: %w", i, err)
		}
		if computed != e.Hash {
			return &TamperError{
				TaskID: taskID,
				Index:  i,
				Reason: fmt.Sprintf("content hash mismatch: computed %s, stored %s", computed, e.Hash),
			}
		}
		prevHash = e.Hash
	}
	return nil
}

// hashEnvelope is the canonical serialization of an entry for hashing: fixed
// field order, UTC RFC3339Nano timestamp, and no Hash field. Changing this
// layout invalidates existing chains.
type hashEnvelope struct {
	TaskID     string      `json:"task_id"`
	FromPhase  string      `json:"from_phase"`
	ToPhase    string      `json:"to_phase"`
	Artifacts  []string    `json:"artifacts"`
	Validated  bool        `json:"validated"`
	Backtrack  bool        `json:"backtrack"`
	Timestamp  string      `json:"timestamp"`
	AgentType  string      `json:"agent_type"`
	Provenance *Provenance `json:"provenance,omitempty"`
	PrevHash   string      `json:"prev_hash"`
}

// ComputeHash returns the SHA-256 hex digest of the entry's canonical
// serialization (everything except the Hash field itself).
func ComputeHash(e Entry) (string, error) {
	artifacts := e.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}

	env := hashEnvelope{
		TaskID:     e.TaskID,
		FromPhase:  e.FromPhase.String(),
		ToPhase:    e.ToPhase.String(),
		Artifacts:  artifacts,
		Validated:  e.Validated,
		Backtrack:  e.Backtrack,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentType:  e.AgentType,
		Provenance: e.Provenance,
		PrevHash:   e.PrevHash,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("canonicalizing entry: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
