// Package telemetry exposes the engine's decision counters. Every transition
// decision, skip attempt, lease contention, and drift detection is counted so
// an operator can see gaming pressure building up before it shows in outcomes.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives engine decision events. Implementations must be safe for
// concurrent use.
type Sink interface {
	TransitionDecision(decision, fromPhase, reason string)
	SkipAttempt(fromPhase, toPhase string)
	LeaseContention(phase string)
	DriftDetected(severity string)
	TrustUpdated(phase, outcome string)
	LeasesSwept(count int)
}

// PromSink is a Sink backed by Prometheus counters.
type PromSink struct {
	transitions     *prometheus.CounterVec
	skipAttempts    *prometheus.CounterVec
	leaseContention *prometheus.CounterVec
	drift           *prometheus.CounterVec
	trustUpdates    *prometheus.CounterVec
	leasesSwept     prometheus.Counter
}

// NewPromSink registers the engine's counters with reg. Passing nil uses the
// default registerer.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromSink{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phasegate_transition_decisions_total",
			Help: "Phase transition decisions by outcome.",
		}, []string{"decision", "phase", "reason"}),
		skipAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phasegate_skip_attempts_total",
			Help: "Rejected attempts to skip over a phase.",
		}, []string{"from_phase", "to_phase"}),
		leaseContention: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phasegate_lease_contention_total",
			Help: "Lease acquisitions refused because another holder was active.",
		}, []string{"phase"}),
		drift: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phasegate_drift_detected_total",
			Help: "Attestation drift detections by severity.",
		}, []string{"severity"}),
		trustUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phasegate_trust_updates_total",
			Help: "Trust score updates by phase and outcome.",
		}, []string{"phase", "outcome"}),
		leasesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "phasegate_leases_swept_total",
			Help: "Expired leases removed by the sweeper.",
		}),
	}
}

func (s *PromSink) TransitionDecision(decision, fromPhase, reason string) {
	s.transitions.WithLabelValues(decision, fromPhase, reason).Inc()
}

func (s *PromSink) SkipAttempt(fromPhase, toPhase string) {
	s.skipAttempts.WithLabelValues(fromPhase, toPhase).Inc()
}

func (s *PromSink) LeaseContention(phase string) {
	s.leaseContention.WithLabelValues(phase).Inc()
}

func (s *PromSink) DriftDetected(severity string) {
	s.drift.WithLabelValues(severity).Inc()
}

func (s *PromSink) TrustUpdated(phase, outcome string) {
	s.trustUpdates.WithLabelValues(phase, outcome).Inc()
}

func (s *PromSink) LeasesSwept(count int) {
	s.leasesSwept.Add(float64(count))
}

// MultiSink fans every event out to each wrapped sink.
type MultiSink []Sink

func (m MultiSink) TransitionDecision(decision, fromPhase, reason string) {
	for _, s := range m {
		s.TransitionDecision(decision, fromPhase, reason)
	}
}

func (m MultiSink) SkipAttempt(fromPhase, toPhase string) {
	for _, s := range m {
		s.SkipAttempt(fromPhase, toPhase)
	}
}

func (m MultiSink) LeaseContention(phase string) {
	for _, s := range m {
		s.LeaseContention(phase)
	}
}

func (m MultiSink) DriftDetected(severity string) {
	for _, s := range m {
		s.DriftDetected(severity)
	}
}

func (m MultiSink) TrustUpdated(phase, outcome string) {
	for _, s := range m {
		s.TrustUpdated(phase, outcome)
	}
}

func (m MultiSink) LeasesSwept(count int) {
	for _, s := range m {
		s.LeasesSwept(count)
	}
}

// NopSink discards every event. Useful in tests and one-shot CLI commands.
type NopSink struct{}

func (NopSink) TransitionDecision(string, string, string) {}
func (NopSink) SkipAttempt(string, string)                {}
func (NopSink) LeaseContention(string)                    {}
func (NopSink) DriftDetected(string)                      {}
func (NopSink) TrustUpdated(string, string)               {}
func (NopSink) LeasesSwept(int)                           {}
