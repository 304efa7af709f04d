// Package trust maintains a decaying per-phase confidence score driven by
// gate outcomes. The score is a decision input for operational policy; this
// package only maintains and exposes it.
package trust

import (
	"context"
	"time"

	"github.com/marcus/phasegate/internal/phase"
)

// Multiplicative update factors. Success compounds slowly; failure cuts
// deep, so a phase that keeps failing gates decays fast.
const (
	successFactor = 1.05
	failureFactor = 0.8
	initialTrust  = 0.5
)

// Outcome is the result of a gate evaluation.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// Record is the persisted trust state for one phase.
type Record struct {
	Phase           phase.Phase    `json:"phase"`
	Trust           float64        `json:"trust"`
	Successes       int            `json:"successes"`
	Failures        int            `json:"failures"`
	FailurePatterns map[string]int `json:"failure_patterns"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// Store persists trust records. Mutate must be atomic per phase row: fn
// receives the current record (nil if the phase has never been scored).
type Store interface {
	Get(ctx context.Context, ph phase.Phase) (*Record, error)
	Mutate(ctx context.Context, ph phase.Phase, fn func(cur *Record) (*Record, error)) error
	List(ctx context.Context) ([]Record, error)
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(s *Scorer) {
		s.nowFunc = f
	}
}

// Scorer applies trust updates and reads scores.
type Scorer struct {
	store   Store
	nowFunc func() time.Time
}

// NewScorer creates a trust scorer over the given store.
func NewScorer(store Store, opts ...Option) *Scorer {
	s := &Scorer{store: store, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordOutcome applies the multiplicative update for one gate outcome.
// On failure, failingGate (when non-empty) has its pattern counter bumped.
// Trust never leaves [0, 1]. Records are never reset here; that is an
// administrative action outside this engine.
func (s *Scorer) RecordOutcome(ctx context.Context, ph phase.Phase, outcome Outcome, failingGate string) (Record, error) {
	var updated Record
	err := s.store.Mutate(ctx, ph, func(cur *Record) (*Record, error) {
		rec := Record{
			Phase:           ph,
			Trust:           initialTrust,
			FailurePatterns: make(map[string]int),
		}
		if cur != nil {
			rec = *cur
			if rec.FailurePatterns == nil {
				rec.FailurePatterns = make(map[string]int)
			}
		}

		switch outcome {
		case Pass:
			rec.Trust = min(1.0, rec.Trust*successFactor)
			rec.Successes++
		case Fail:
			rec.Trust = max(0.0, rec.Trust*failureFactor)
			rec.Failures++
			if failingGate != "" {
				rec.FailurePatterns[failingGate]++
			}
		}
		rec.LastUpdated = s.nowFunc().UTC()

		updated = rec
		return &rec, nil
	})
	if err != nil {
		return Record{}, err
	}
	return updated, nil
}

// Score returns the trust record for a phase. A phase that has never been
// scored reports the initial trust with zero counters.
func (s *Scorer) Score(ctx context.Context, ph phase.Phase) (Record, error) {
	rec, err := s.store.Get(ctx, ph)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{
			Phase:           ph,
			Trust:           initialTrust,
			FailurePatterns: make(map[string]int),
		}, nil
	}
	return *rec, nil
}

// Scores returns all persisted trust records.
func (s *Scorer) Scores(ctx context.Context) ([]Record, error) {
	return s.store.List(ctx)
}
