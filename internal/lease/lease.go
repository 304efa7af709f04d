// Package lease implements time-boxed mutual exclusion scoped to a single
// task's phase. At most one non-expired lease exists per (task, phase) pair;
// expiry, not cooperative release, is the liveness guarantee against crashed
// holders.
package lease

import (
	"context"
	"time"

	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
)

// Defaults for lease lifetime management.
const (
	DefaultTTL         = 300 * time.Second
	DefaultMaxRenewals = 10
)

// Lease is a mutual-exclusion grant for one task's phase.
type Lease struct {
	TaskID       string      `json:"task_id"`
	Phase        phase.Phase `json:"phase"`
	Holder       string      `json:"holder"`
	AcquiredAt   time.Time   `json:"acquired_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	RenewalCount int         `json:"renewal_count"`
}

// ExpiredAt reports whether the lease has lapsed as of now.
func (l Lease) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Store persists lease records. Mutate must be atomic with respect to other
// mutations of the same (task, phase) row: fn receives the current record
// (nil if absent) and returns the replacement (nil to delete).
type Store interface {
	Get(ctx context.Context, taskID string, ph phase.Phase) (*Lease, error)
	Mutate(ctx context.Context, taskID string, ph phase.Phase, fn func(cur *Lease) (*Lease, error)) error
	List(ctx context.Context) ([]Lease, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AcquireResult reports the outcome of an acquisition attempt. When the lease
// is contended, Holder and ExpiresIn describe the winning record.
type AcquireResult struct {
	Acquired  bool
	Holder    string
	ExpiresIn time.Duration
	Lease     *Lease
}

// RenewResult reports the outcome of a renewal attempt.
type RenewResult struct {
	Renewed bool
	Reason  string
	Lease   *Lease
}

// Option configures a Manager.
type Option func(*Manager)

// Manager grants, renews, and releases phase leases over a shared store.
type Manager struct {
	store       Store
	ttl         time.Duration
	maxRenewals int
	log         *logging.Logger
	nowFunc     func() time.Time // for testing
}

// WithTTL overrides the default lease TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithMaxRenewals overrides the renewal cap.
func WithMaxRenewals(n int) Option {
	return func(m *Manager) {
		m.maxRenewals = n
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = f
	}
}

// NewManager creates a lease manager backed by the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		ttl:         DefaultTTL,
		maxRenewals: DefaultMaxRenewals,
		log:         logging.Component("lease"),
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured lease TTL.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire attempts to take the lease for (taskID, ph). Non-blocking: when a
// live lease is held elsewhere the result carries the current holder and the
// remaining TTL, and the caller decides its own backoff. An expired record is
// stolen. Re-acquisition by a holder that just released starts fresh: renewal
// count zero, no grace period.
func (m *Manager) Acquire(ctx context.Context, taskID string, ph phase.Phase, holder string, ttl time.Duration) (AcquireResult, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.nowFunc()

	var result AcquireResult
	err := m.store.Mutate(ctx, taskID, ph, func(cur *Lease) (*Lease, error) {
		if cur != nil && !cur.ExpiredAt(now) {
			result = AcquireResult{
				Acquired:  false,
				Holder:    cur.Holder,
				ExpiresIn: cur.ExpiresAt.Sub(now),
			}
			return cur, nil
		}

		granted := &Lease{
			TaskID:     taskID,
			Phase:      ph,
			Holder:     holder,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		result = AcquireResult{Acquired: true, Lease: granted}
		return granted, nil
	})
	if err != nil {
		return AcquireResult{}, err
	}

	if result.Acquired {
		m.log.DebugCtx("lease acquired", map[string]any{
			"task_id": taskID, "phase": ph.String(), "holder": holder,
		})
	} else {
		m.log.DebugCtx("lease contended", map[string]any{
			"task_id": taskID, "phase": ph.String(), "holder": holder, "held_by": result.Holder,
		})
	}
	return result, nil
}

// Renew extends the lease expiry by the manager TTL. It refuses when the
// holder does not match or the renewal cap has been reached; hitting the cap
// forces the holder to relinquish on its next check rather than monopolize
// the phase without forward progress.
func (m *Manager) Renew(ctx context.Context, taskID string, ph phase.Phase, holder string) (RenewResult, error) {
	now := m.nowFunc()

	var result RenewResult
	err := m.store.Mutate(ctx, taskID, ph, func(cur *Lease) (*Lease, error) {
		switch {
		case cur == nil || cur.ExpiredAt(now):
			result = RenewResult{Reason: "lease expired or absent"}
			return cur, nil
		case cur.Holder != holder:
			result = RenewResult{Reason: "held by " + cur.Holder}
			return cur, nil
		case cur.RenewalCount >= m.maxRenewals:
			result = RenewResult{Reason: "renewal cap reached"}
			return cur, nil
		}

		renewed := *cur
		renewed.ExpiresAt = now.Add(m.ttl)
		renewed.RenewalCount++
		result = RenewResult{Renewed: true, Lease: &renewed}
		return &renewed, nil
	})
	if err != nil {
		return RenewResult{}, err
	}
	return result, nil
}

// Release deletes the lease if holder matches. A mismatch or missing record
// is a no-op, not an error: the lease may simply have expired already.
func (m *Manager) Release(ctx context.Context, taskID string, ph phase.Phase, holder string) error {
	return m.store.Mutate(ctx, taskID, ph, func(cur *Lease) (*Lease, error) {
		if cur == nil || cur.Holder != holder {
			return cur, nil
		}
		return nil, nil
	})
}

// Leases returns every persisted lease record, lapsed ones included.
func (m *Manager) Leases(ctx context.Context) ([]Lease, error) {
	return m.store.List(ctx)
}

// SweepExpired removes lapsed lease records and returns how many were
// reclaimed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.nowFunc())
}
