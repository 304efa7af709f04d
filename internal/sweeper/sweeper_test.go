package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/phasegate/internal/lease"
	"github.com/marcus/phasegate/internal/phase"
)

func TestSweepReclaimsExpiredLeases(t *testing.T) {
	now := time.Now()
	clock := &now
	mgr := lease.NewManager(lease.NewMemoryStore(),
		lease.WithTTL(time.Minute),
		lease.WithNowFunc(func() time.Time { return *clock }))

	ctx := context.Background()
	for _, ph := range []phase.Phase{phase.Plan, phase.Implement} {
		if _, err := mgr.Acquire(ctx, "task-1", ph, "worker-a", 0); err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
	}

	s := New(mgr)
	if n := s.Sweep(ctx); n != 0 {
		t.Errorf("Sweep() with live leases = %d, want 0", n)
	}

	later := now.Add(2 * time.Minute)
	clock = &later
	if n := s.Sweep(ctx); n != 2 {
		t.Errorf("Sweep() after expiry = %d, want 2", n)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	s := New(lease.NewManager(lease.NewMemoryStore()), WithSchedule("not a schedule"))
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() with invalid schedule succeeded")
		s.Stop()
	}
}

func TestSweeperStartStop(t *testing.T) {
	s := New(lease.NewManager(lease.NewMemoryStore()), WithSchedule("@every 1h"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	s.Stop()
}
