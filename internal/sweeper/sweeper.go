// Package sweeper reclaims expired phase leases on a schedule. Expiry is the
// engine's only recovery path for crashed holders; the sweeper just keeps the
// lease table from accumulating dead records between acquisitions.
package sweeper

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/marcus/phasegate/internal/lease"
	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/telemetry"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "* * * * *"

// Sweeper periodically deletes expired leases.
type Sweeper struct {
	leases    *lease.Manager
	telemetry telemetry.Sink
	schedule  string
	cron      *cron.Cron
	log       *logging.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron schedule.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) { s.schedule = spec }
}

// WithTelemetry installs a telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Sweeper) { s.telemetry = sink }
}

// New creates a sweeper over the given lease manager.
func New(leases *lease.Manager, opts ...Option) *Sweeper {
	s := &Sweeper{
		leases:    leases,
		telemetry: telemetry.NopSink{},
		schedule:  DefaultSchedule,
		log:       logging.Component("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.InfoCtx("lease sweeper started", map[string]any{"schedule": s.schedule})
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one reclamation pass and returns how many leases were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.leases.SweepExpired(ctx)
	if err != nil {
		s.log.WarnCtx("lease sweep failed", map[string]any{"error": err.Error()})
		return 0
	}
	if n > 0 {
		s.telemetry.LeasesSwept(n)
		s.log.InfoCtx("expired leases reclaimed", map[string]any{"count": n})
	}
	return n
}
