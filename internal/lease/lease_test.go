package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/phase"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), opts...)
}

func TestAcquireFresh(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Acquire(ctx, "task-1", phase.Strategize, "holder-a", 0)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("Acquire() not acquired on empty store")
	}
	if res.Lease.Holder != "holder-a" {
		t.Errorf("holder = %q, want holder-a", res.Lease.Holder)
	}
	if res.Lease.RenewalCount != 0 {
		t.Errorf("renewal count = %d, want 0", res.Lease.RenewalCount)
	}
}

func TestAcquireContended(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Spec, "holder-a", 0); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}

	res, err := m.Acquire(ctx, "task-1", phase.Spec, "holder-b", 0)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if res.Acquired {
		t.Fatal("second Acquire() succeeded while live lease held elsewhere")
	}
	if res.Holder != "holder-a" {
		t.Errorf("contending holder = %q, want holder-a", res.Holder)
	}
	if res.ExpiresIn <= 0 {
		t.Errorf("ExpiresIn = %v, want positive remaining TTL", res.ExpiresIn)
	}
}

func TestAcquireStealsExpired(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, WithNowFunc(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Plan, "holder-a", time.Second); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// Advance past expiry.
	now = now.Add(2 * time.Second)

	res, err := m.Acquire(ctx, "task-1", phase.Plan, "holder-b", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("Acquire() failed to steal expired lease")
	}
	if res.Lease.Holder != "holder-b" {
		t.Errorf("holder = %q, want holder-b", res.Lease.Holder)
	}
}

func TestRenew(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, WithMaxRenewals(2), WithNowFunc(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Implement, "holder-a", 0); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// Wrong holder is refused.
	res, err := m.Renew(ctx, "task-1", phase.Implement, "holder-b")
	if err != nil {
		t.Fatalf("Renew() error: %v", err)
	}
	if res.Renewed {
		t.Error("Renew() succeeded for wrong holder")
	}

	// Renewals up to the cap succeed, then refuse.
	for i := 1; i <= 2; i++ {
		res, err = m.Renew(ctx, "task-1", phase.Implement, "holder-a")
		if err != nil {
			t.Fatalf("Renew() #%d error: %v", i, err)
		}
		if !res.Renewed {
			t.Fatalf("Renew() #%d refused: %s", i, res.Reason)
		}
		if res.Lease.RenewalCount != i {
			t.Errorf("renewal count = %d, want %d", res.Lease.RenewalCount, i)
		}
	}

	res, err = m.Renew(ctx, "task-1", phase.Implement, "holder-a")
	if err != nil {
		t.Fatalf("Renew() error: %v", err)
	}
	if res.Renewed {
		t.Error("Renew() exceeded renewal cap")
	}
}

func TestReleaseMismatchIsNoop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Verify, "holder-a", 0); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if err := m.Release(ctx, "task-1", phase.Verify, "holder-b"); err != nil {
		t.Fatalf("Release() with wrong holder returned error: %v", err)
	}

	// Lease must still be held by holder-a.
	res, err := m.Acquire(ctx, "task-1", phase.Verify, "holder-c", 0)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if res.Acquired {
		t.Error("lease was released by non-holder")
	}

	if err := m.Release(ctx, "task-1", phase.Verify, "holder-a"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	res, err = m.Acquire(ctx, "task-1", phase.Verify, "holder-c", 0)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.Acquired {
		t.Error("lease not acquirable after proper release")
	}
}

func TestReacquireAfterReleaseIsFresh(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Review, "holder-a", 0); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := m.Renew(ctx, "task-1", phase.Review, "holder-a"); err != nil {
		t.Fatalf("Renew() error: %v", err)
	}
	if err := m.Release(ctx, "task-1", phase.Review, "holder-a"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	res, err := m.Acquire(ctx, "task-1", phase.Review, "holder-a", 0)
	if err != nil {
		t.Fatalf("re-Acquire() error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("re-Acquire() after release failed")
	}
	if res.Lease.RenewalCount != 0 {
		t.Errorf("renewal count after re-acquire = %d, want 0", res.Lease.RenewalCount)
	}
}

// Concurrent acquisition from distinct holders must grant exactly one lease.
func TestConcurrentAcquireMutualExclusion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	const holders = 16
	var wg sync.WaitGroup
	acquired := make([]bool, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Acquire(ctx, "task-1", phase.Implement, string(rune('a'+i)), 0)
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			acquired[i] = res.Acquired
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range acquired {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, WithNowFunc(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "task-1", phase.Plan, "holder-a", time.Second); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := m.Acquire(ctx, "task-2", phase.Plan, "holder-b", time.Hour); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	now = now.Add(2 * time.Second)

	n, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
}

// The SQLite store must behave identically to the memory store for the core
// acquire/renew/release cycle.
func TestSQLiteStoreRoundTrip(t *testing.T) {
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer d.Close()

	m := NewManager(NewSQLiteStore(d))
	ctx := context.Background()

	res, err := m.Acquire(ctx, "task-1", phase.Strategize, "holder-a", 0)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.Acquired {
		t.Fatal("Acquire() failed on empty table")
	}

	res, err = m.Acquire(ctx, "task-1", phase.Strategize, "holder-b", 0)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if res.Acquired {
		t.Error("contended Acquire() succeeded")
	}

	renew, err := m.Renew(ctx, "task-1", phase.Strategize, "holder-a")
	if err != nil {
		t.Fatalf("Renew() error: %v", err)
	}
	if !renew.Renewed {
		t.Errorf("Renew() refused: %s", renew.Reason)
	}

	if err := m.Release(ctx, "task-1", phase.Strategize, "holder-a"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	leases, err := NewSQLiteStore(d).List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(leases) != 0 {
		t.Errorf("leases after release = %d, want 0", len(leases))
	}
}
