package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromSinkCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPromSink(reg)

	sink.TransitionDecision("blocked", "IMPLEMENT", "gate_failure")
	sink.TransitionDecision("blocked", "IMPLEMENT", "gate_failure")
	sink.SkipAttempt("SPEC", "IMPLEMENT")
	sink.LeaseContention("VERIFY")
	sink.DriftDetected("high")
	sink.TrustUpdated("IMPLEMENT", "pass")
	sink.LeasesSwept(3)

	if got := testutil.ToFloat64(sink.transitions.WithLabelValues("blocked", "IMPLEMENT", "gate_failure")); got != 2 {
		t.Errorf("transition decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.skipAttempts.WithLabelValues("SPEC", "IMPLEMENT")); got != 1 {
		t.Errorf("skip attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.leasesSwept); got != 3 {
		t.Errorf("leases swept = %v, want 3", got)
	}
}

func TestNopSinkIsSafe(t *testing.T) {
	var sink Sink = NopSink{}
	sink.TransitionDecision("advanced", "PLAN", "")
	sink.SkipAttempt("PLAN", "VERIFY")
	sink.LeaseContention("PLAN")
	sink.DriftDetected("low")
	sink.TrustUpdated("PLAN", "fail")
	sink.LeasesSwept(0)
}
