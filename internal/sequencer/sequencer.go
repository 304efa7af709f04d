// Package sequencer implements the per-task phase state machine. It enforces
// the fixed phase order, arbitrates access through leases, records every
// transition in the hash-chained ledger, and folds drift detection and trust
// scoring into each advance decision.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/phasegate/internal/attest"
	"github.com/marcus/phasegate/internal/evidence"
	"github.com/marcus/phasegate/internal/gates"
	"github.com/marcus/phasegate/internal/ledger"
	"github.com/marcus/phasegate/internal/lease"
	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
	"github.com/marcus/phasegate/internal/registry"
	"github.com/marcus/phasegate/internal/telemetry"
	"github.com/marcus/phasegate/internal/trust"
)

// BacktrackTarget is where a high-severity drift detection forces a task.
const BacktrackTarget = phase.Plan

// DefaultProbeTimeout bounds advisory probe invocations.
const DefaultProbeTimeout = 30 * time.Second

// Caller errors. Everything else that blocks a transition is an expected
// validation outcome carried in the Outcome value, not an error.
var (
	ErrTaskNotInCycle = errors.New("task not in cycle")
	ErrAlreadyInCycle = errors.New("task already in cycle")
)

// Reason explains a transition decision.
type Reason string

const (
	ReasonAdvanced       Reason = "advanced"
	ReasonBacktrack      Reason = "backtrack"
	ReasonCompleted      Reason = "completed"
	ReasonGateFailure    Reason = "gate_failure"
	ReasonEvidence       Reason = "evidence_incomplete"
	ReasonSkipViolation  Reason = "skip_violation"
	ReasonContention     Reason = "lease_contention"
	ReasonDrift          Reason = "high_severity_drift"
	ReasonFinalFailed    Reason = "final_verification_failed"
	ReasonForcedBack     Reason = "forced_backtrack"
	ReasonCycleStarted   Reason = "cycle_started"
)

// Outcome is the structured result of StartCycle or Advance. Advanced is the
// boolean the caller branches on; the rest is diagnostic payload for the
// remediation policy layer.
type Outcome struct {
	Advanced        bool                `json:"advanced"`
	Completed       bool                `json:"completed,omitempty"`
	Reason          Reason              `json:"reason"`
	From            phase.Phase         `json:"from,omitempty"`
	To              phase.Phase         `json:"to,omitempty"`
	RequiredPhase   phase.Phase         `json:"required_phase,omitempty"`
	FailedGates     []string            `json:"failed_gates,omitempty"`
	MissingEvidence []string            `json:"missing_evidence,omitempty"`
	Drift           *attest.DriftReport `json:"drift,omitempty"`
	HeldBy          string              `json:"held_by,omitempty"`
	ExpiresIn       time.Duration       `json:"expires_in,omitempty"`
	GateReport      *gates.Report       `json:"gate_report,omitempty"`
	FinalReport     string              `json:"final_report,omitempty"`
}

// Request carries the caller-supplied inputs for one Advance attempt.
type Request struct {
	TaskID        string
	Holder        string
	DesiredPhase  *phase.Phase
	ContextDigest string
	AgentType     string
	Provenance    *ledger.Provenance
}

// EvidenceCollector is the evidence-session boundary consumed by the
// sequencer.
type EvidenceCollector interface {
	StartCollection(ctx context.Context, taskID string, ph phase.Phase) error
	Finalize(ctx context.Context, taskID string, ph phase.Phase) (evidence.Bundle, error)
	RequiredKinds(ph phase.Phase) []string
	Dir(taskID string, ph phase.Phase) string
}

// FinalVerifier runs the comprehensive terminal-phase checklist.
type FinalVerifier interface {
	Verify(ctx context.Context, taskID string, bundle evidence.Bundle) (passed bool, report string, err error)
}

// GamingDetector inspects an evidence directory for signs the work gamed its
// own verification. It is advisory and fail-open.
type GamingDetector interface {
	Inspect(ctx context.Context, taskID, evidenceDir string) (gates.Opinion, error)
}

// LevelClassifier reports how thoroughly an evidence directory was verified,
// e.g. "compiled-only", "smoke-tested", "integration-tested". Advisory only.
type LevelClassifier interface {
	Classify(ctx context.Context, evidenceDir string) (string, error)
}

// levelRank orders classifier levels for minimum comparisons.
var levelRank = map[string]int{
	"compiled-only":      1,
	"smoke-tested":       2,
	"integration-tested": 3,
}

// DefaultMinimumLevels is the verification floor expected when leaving a
// phase. Mismatches are logged, never blocking.
var DefaultMinimumLevels = map[phase.Phase]string{
	phase.Implement: "compiled-only",
	phase.Verify:    "smoke-tested",
	phase.Monitor:   "integration-tested",
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithGateRunner overrides the gate runner.
func WithGateRunner(r *gates.Runner) Option {
	return func(s *Sequencer) { s.runner = r }
}

// WithTelemetry installs a telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Sequencer) { s.telemetry = sink }
}

// WithFinalVerifier installs the terminal-phase verifier.
func WithFinalVerifier(v FinalVerifier) Option {
	return func(s *Sequencer) { s.finalVerifier = v }
}

// WithGamingDetector installs the advisory gaming probe.
func WithGamingDetector(d GamingDetector) Option {
	return func(s *Sequencer) { s.gamingDetector = d }
}

// WithLevelClassifier installs the advisory verification-level classifier.
func WithLevelClassifier(c LevelClassifier) Option {
	return func(s *Sequencer) { s.classifier = c }
}

// WithMinimumLevels overrides the per-phase verification floor.
func WithMinimumLevels(levels map[phase.Phase]string) Option {
	return func(s *Sequencer) { s.minimumLevels = levels }
}

// WithProbeTimeout overrides the advisory probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.probeTimeout = d }
}

// Sequencer coordinates the governance components for every transition.
type Sequencer struct {
	state    StateStore
	leases   *lease.Manager
	ledger   *ledger.Ledger
	trust    *trust.Scorer
	drift    *attest.Detector
	gates    gates.Provider
	runner   *gates.Runner
	evidence EvidenceCollector
	registry registry.Registry

	telemetry      telemetry.Sink
	finalVerifier  FinalVerifier
	gamingDetector GamingDetector
	classifier     LevelClassifier
	minimumLevels  map[phase.Phase]string
	probeTimeout   time.Duration

	log *logging.Logger
}

// New wires a sequencer over its collaborators.
func New(
	state StateStore,
	leases *lease.Manager,
	ldg *ledger.Ledger,
	scorer *trust.Scorer,
	detector *attest.Detector,
	provider gates.Provider,
	collector EvidenceCollector,
	reg registry.Registry,
	opts ...Option,
) *Sequencer {
	s := &Sequencer{
		state:         state,
		leases:        leases,
		ledger:        ldg,
		trust:         scorer,
		drift:         detector,
		gates:         provider,
		runner:        gates.NewRunner(),
		evidence:      collector,
		registry:      reg,
		telemetry:     telemetry.NopSink{},
		minimumLevels: DefaultMinimumLevels,
		probeTimeout:  DefaultProbeTimeout,
		log:           logging.Component("sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCycle admits a task into the lifecycle at the first phase. It fails
// with ErrAlreadyInCycle when the task has a current phase, and reports lease
// contention without error when another holder owns the entry lease.
func (s *Sequencer) StartCycle(ctx context.Context, taskID, holder string) (Outcome, error) {
	if _, inCycle, err := s.state.Current(ctx, taskID); err != nil {
		return Outcome{}, err
	} else if inCycle {
		return Outcome{}, ErrAlreadyInCycle
	}

	first := phase.First()
	acq, err := s.leases.Acquire(ctx, taskID, first, holder, 0)
	if err != nil {
		return Outcome{}, err
	}
	if !acq.Acquired {
		s.telemetry.LeaseContention(first.String())
		s.telemetry.TransitionDecision("block", "", string(ReasonContention))
		return Outcome{Reason: ReasonContention, To: first, HeldBy: acq.Holder, ExpiresIn: acq.ExpiresIn}, nil
	}

	if err := s.state.Set(ctx, taskID, first); err != nil {
		return Outcome{}, err
	}
	if _, err := s.ledger.Append(ctx, ledger.Draft{
		TaskID:    taskID,
		ToPhase:   first,
		Validated: true,
	}); err != nil {
		return Outcome{}, err
	}
	if err := s.evidence.StartCollection(ctx, taskID, first); err != nil {
		return Outcome{}, err
	}

	s.telemetry.TransitionDecision("allow", "", string(ReasonCycleStarted))
	s.log.InfoCtx("cycle started", map[string]any{
		"task_id": taskID, "phase": first.String(), "holder": holder,
	})
	return Outcome{Advanced: true, Reason: ReasonCycleStarted, To: first}, nil
}

// Advance attempts one transition for the task. The sub-steps run in a fixed
// order: lease check, gates, evidence, drift, trust, target resolution,
// lease hand-off, ledger append. Validation outcomes come back in the
// Outcome; only caller errors and infrastructure failures are errors.
func (s *Sequencer) Advance(ctx context.Context, req Request) (Outcome, error) {
	current, inCycle, err := s.state.Current(ctx, req.TaskID)
	if err != nil {
		return Outcome{}, err
	}
	if !inCycle {
		return Outcome{}, ErrTaskNotInCycle
	}

	// A second concurrent advance for the same task must fail fast here
	// rather than interleave with the first.
	acq, err := s.leases.Acquire(ctx, req.TaskID, current, req.Holder, 0)
	if err != nil {
		return Outcome{}, err
	}
	if !acq.Acquired && acq.Holder != req.Holder {
		s.telemetry.LeaseContention(current.String())
		s.telemetry.TransitionDecision("block", current.String(), string(ReasonContention))
		return Outcome{Reason: ReasonContention, From: current, HeldBy: acq.Holder, ExpiresIn: acq.ExpiresIn}, nil
	}

	// Gates.
	gs, err := s.gates.GatesFor(ctx, req.TaskID, current)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolving gates: %w", err)
	}
	report := s.runner.Run(ctx, gs)
	if !report.Passed() {
		return s.blockOnGates(ctx, req, current, report)
	}

	// Evidence bundle must satisfy the phase before any transition.
	bundle, err := s.evidence.Finalize(ctx, req.TaskID, current)
	if err != nil {
		return Outcome{}, fmt.Errorf("finalizing evidence: %w", err)
	}
	if !bundle.MeetsCompletionCriteria {
		if err := s.evidence.StartCollection(ctx, req.TaskID, current); err != nil {
			return Outcome{}, err
		}
		s.telemetry.TransitionDecision("block", current.String(), string(ReasonEvidence))
		return Outcome{
			Reason:          ReasonEvidence,
			From:            current,
			MissingEvidence: bundle.MissingEvidence,
			GateReport:      &report,
		}, nil
	}

	s.classifyLevel(ctx, req.TaskID, current)

	// Drift against the phase's attested baseline.
	driftReport, err := s.drift.Attest(ctx, attest.ContractSpec{
		TaskID:        req.TaskID,
		Phase:         current,
		RequiredItems: s.evidence.RequiredKinds(current),
		GateNames:     report.Names(),
		Artifacts:     bundle.Artifacts,
		ContextDigest: req.ContextDigest,
		Provenance:    req.Provenance,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("attesting contract: %w", err)
	}
	if driftReport.HasDrift {
		s.telemetry.DriftDetected(string(driftReport.Severity))
	}
	if driftReport.Severity == attest.SeverityHigh {
		return s.forcedBacktrack(ctx, req, current, driftReport, bundle)
	}

	// Gates passed and drift is tolerable: the phase earns a trust bump.
	if _, err := s.trust.RecordOutcome(ctx, current, trust.Pass, ""); err != nil {
		return Outcome{}, err
	}
	s.telemetry.TrustUpdated(current.String(), string(trust.Pass))

	// Target resolution.
	target, backtrack, outcome, resolved := s.resolveTarget(current, req.DesiredPhase)
	if resolved {
		return outcome, nil
	}
	if current.IsLast() && !backtrack {
		return s.complete(ctx, req, current, bundle)
	}

	s.inspectForGaming(ctx, req.TaskID, current, target)

	return s.transition(ctx, req, current, target, backtrack, bundle)
}

// blockOnGates records a required-gate failure: trust decays, a
// non-advancing ledger entry is written, and the caller gets the failing gate
// names for remediation.
func (s *Sequencer) blockOnGates(ctx context.Context, req Request, current phase.Phase, report gates.Report) (Outcome, error) {
	failingGate := report.RequiredFailures[0]
	if _, err := s.trust.RecordOutcome(ctx, current, trust.Fail, failingGate); err != nil {
		return Outcome{}, err
	}
	s.telemetry.TrustUpdated(current.String(), string(trust.Fail))

	if _, err := s.ledger.Append(ctx, ledger.Draft{
		TaskID:     req.TaskID,
		FromPhase:  current,
		ToPhase:    current,
		Validated:  false,
		AgentType:  req.AgentType,
		Provenance: req.Provenance,
	}); err != nil {
		return Outcome{}, err
	}

	s.telemetry.TransitionDecision("block", current.String(), string(ReasonGateFailure))
	s.log.InfoCtx("transition blocked by gates", map[string]any{
		"task_id": req.TaskID, "phase": current.String(), "failed": report.RequiredFailures,
	})
	return Outcome{
		Reason:      ReasonGateFailure,
		From:        current,
		FailedGates: report.RequiredFailures,
		GateReport:  &report,
	}, nil
}

// forcedBacktrack handles high-severity drift: the task is pushed back to the
// corrective phase, the failure is scored, and the registry gets an audit
// note. Lease contention on the corrective phase leaves the task where it is.
func (s *Sequencer) forcedBacktrack(ctx context.Context, req Request, current phase.Phase, driftReport attest.DriftReport, bundle evidence.Bundle) (Outcome, error) {
	if _, err := s.trust.RecordOutcome(ctx, current, trust.Fail, "attestation-drift"); err != nil {
		return Outcome{}, err
	}
	s.telemetry.TrustUpdated(current.String(), string(trust.Fail))

	target := BacktrackTarget
	if current.Index() <= target.Index() {
		// Already at or before the corrective phase; hold position.
		target = current
	}

	if target != current {
		if err := s.leases.Release(ctx, req.TaskID, current, req.Holder); err != nil {
			return Outcome{}, err
		}
		acq, err := s.leases.Acquire(ctx, req.TaskID, target, req.Holder, 0)
		if err != nil {
			return Outcome{}, err
		}
		if !acq.Acquired {
			if _, err := s.leases.Acquire(ctx, req.TaskID, current, req.Holder, 0); err != nil {
				return Outcome{}, err
			}
			s.telemetry.LeaseContention(target.String())
			s.telemetry.TransitionDecision("block", current.String(), string(ReasonContention))
			return Outcome{
				Reason:    ReasonContention,
				From:      current,
				To:        target,
				Drift:     &driftReport,
				HeldBy:    acq.Holder,
				ExpiresIn: acq.ExpiresIn,
			}, nil
		}
		if err := s.state.Set(ctx, req.TaskID, target); err != nil {
			return Outcome{}, err
		}
		if err := s.evidence.StartCollection(ctx, req.TaskID, target); err != nil {
			return Outcome{}, err
		}
	}

	if _, err := s.ledger.Append(ctx, ledger.Draft{
		TaskID:     req.TaskID,
		FromPhase:  current,
		ToPhase:    target,
		Artifacts:  bundle.Artifacts,
		Validated:  false,
		Backtrack:  true,
		AgentType:  req.AgentType,
		Provenance: req.Provenance,
	}); err != nil {
		return Outcome{}, err
	}

	note := fmt.Sprintf("forced backtrack %s -> %s: high severity attestation drift: %v",
		current.String(), target.String(), driftReport.Details)
	if err := s.registry.AddAuditNote(ctx, req.TaskID, note); err != nil {
		s.log.WarnCtx("audit note failed", map[string]any{"task_id": req.TaskID, "error": err.Error()})
	}

	s.telemetry.TransitionDecision("block", current.String(), string(ReasonDrift))
	s.log.WarnCtx("forced corrective backtrack", map[string]any{
		"task_id": req.TaskID, "from": current.String(), "to": target.String(),
		"severity": string(driftReport.Severity),
	})
	return Outcome{
		Reason: ReasonForcedBack,
		From:   current,
		To:     target,
		Drift:  &driftReport,
	}, nil
}

// resolveTarget maps the caller's desired phase onto a concrete target.
// resolved is true when the request was rejected outright.
func (s *Sequencer) resolveTarget(current phase.Phase, desired *phase.Phase) (target phase.Phase, backtrack bool, outcome Outcome, resolved bool) {
	if desired == nil {
		next, ok := current.Next()
		if !ok {
			// Terminal phase: handled by the caller's terminal path.
			return current, false, Outcome{}, false
		}
		return next, false, Outcome{}, false
	}

	switch {
	case desired.Valid() && desired.Index() < current.Index():
		return *desired, true, Outcome{}, false
	case *desired == current:
		// Re-entering the same phase forward is a skip violation too: the
		// only legal forward target is the next phase.
		fallthrough
	default:
		next, hasNext := current.Next()
		if hasNext && *desired == next {
			return next, false, Outcome{}, false
		}
		s.telemetry.SkipAttempt(current.String(), desired.String())
		s.telemetry.TransitionDecision("block", current.String(), string(ReasonSkipViolation))
		out := Outcome{
			Reason: ReasonSkipViolation,
			From:   current,
			To:     *desired,
		}
		if hasNext {
			out.RequiredPhase = next
		}
		return current, false, out, true
	}
}

// transition executes the lease hand-off and ledger append for a resolved
// target. Contention on the target rolls everything back.
func (s *Sequencer) transition(ctx context.Context, req Request, current, target phase.Phase, backtrack bool, bundle evidence.Bundle) (Outcome, error) {
	if err := s.leases.Release(ctx, req.TaskID, current, req.Holder); err != nil {
		return Outcome{}, err
	}
	acq, err := s.leases.Acquire(ctx, req.TaskID, target, req.Holder, 0)
	if err != nil {
		return Outcome{}, err
	}
	if !acq.Acquired {
		// Roll back: the task stays put and the holder retakes its lease.
		if _, err := s.leases.Acquire(ctx, req.TaskID, current, req.Holder, 0); err != nil {
			return Outcome{}, err
		}
		s.telemetry.LeaseContention(target.String())
		s.telemetry.TransitionDecision("block", current.String(), string(ReasonContention))
		return Outcome{
			Reason:    ReasonContention,
			From:      current,
			To:        target,
			HeldBy:    acq.Holder,
			ExpiresIn: acq.ExpiresIn,
		}, nil
	}

	if err := s.state.Set(ctx, req.TaskID, target); err != nil {
		return Outcome{}, err
	}
	if err := s.evidence.StartCollection(ctx, req.TaskID, target); err != nil {
		return Outcome{}, err
	}
	if _, err := s.ledger.Append(ctx, ledger.Draft{
		TaskID:     req.TaskID,
		FromPhase:  current,
		ToPhase:    target,
		Artifacts:  bundle.Artifacts,
		Validated:  true,
		Backtrack:  backtrack,
		AgentType:  req.AgentType,
		Provenance: req.Provenance,
	}); err != nil {
		return Outcome{}, err
	}

	reason := ReasonAdvanced
	if backtrack {
		reason = ReasonBacktrack
	}
	s.telemetry.TransitionDecision("allow", current.String(), string(reason))
	s.log.InfoCtx("phase transition", map[string]any{
		"task_id": req.TaskID, "from": current.String(), "to": target.String(),
		"backtrack": backtrack, "holder": req.Holder,
	})
	return Outcome{Advanced: true, Reason: reason, From: current, To: target}, nil
}

// complete runs the terminal path: the comprehensive final verification over
// the accumulated bundle, then cycle teardown.
func (s *Sequencer) complete(ctx context.Context, req Request, current phase.Phase, bundle evidence.Bundle) (Outcome, error) {
	if s.finalVerifier != nil {
		passed, verifyReport, err := s.finalVerifier.Verify(ctx, req.TaskID, bundle)
		if err != nil {
			return Outcome{}, fmt.Errorf("final verification: %w", err)
		}
		if !passed {
			// Stay in the terminal phase; collection re-opens for remediation.
			if err := s.evidence.StartCollection(ctx, req.TaskID, current); err != nil {
				return Outcome{}, err
			}
			s.telemetry.TransitionDecision("block", current.String(), string(ReasonFinalFailed))
			s.log.InfoCtx("final verification failed", map[string]any{
				"task_id": req.TaskID, "report": verifyReport,
			})
			return Outcome{
				Reason:      ReasonFinalFailed,
				From:        current,
				FinalReport: verifyReport,
			}, nil
		}
	}

	if _, err := s.ledger.Append(ctx, ledger.Draft{
		TaskID:     req.TaskID,
		FromPhase:  current,
		ToPhase:    current,
		Artifacts:  bundle.Artifacts,
		Validated:  true,
		AgentType:  req.AgentType,
		Provenance: req.Provenance,
	}); err != nil {
		return Outcome{}, err
	}
	if err := s.leases.Release(ctx, req.TaskID, current, req.Holder); err != nil {
		return Outcome{}, err
	}
	if err := s.state.Clear(ctx, req.TaskID); err != nil {
		return Outcome{}, err
	}
	if err := s.registry.Transition(ctx, req.TaskID, registry.StatusDone, map[string]string{
		"final_phase": current.String(),
	}); err != nil {
		return Outcome{}, fmt.Errorf("marking task done: %w", err)
	}

	s.telemetry.TransitionDecision("allow", current.String(), string(ReasonCompleted))
	s.log.InfoCtx("task completed cycle", map[string]any{
		"task_id": req.TaskID, "final_phase": current.String(),
	})
	return Outcome{Advanced: true, Completed: true, Reason: ReasonCompleted, From: current}, nil
}

// inspectForGaming runs the advisory gaming probe at the VERIFY -> REVIEW
// boundary. A flagged verdict is logged and noted, never blocking; a failed
// probe yields no opinion at all.
func (s *Sequencer) inspectForGaming(ctx context.Context, taskID string, current, target phase.Phase) {
	if s.gamingDetector == nil || current != phase.Verify || target != phase.Review {
		return
	}

	dir := s.evidence.Dir(taskID, current)
	opinion := gates.RunFailOpen(ctx, "gaming-detector", s.probeTimeout,
		func(ctx context.Context) (gates.Opinion, error) {
			return s.gamingDetector.Inspect(ctx, taskID, dir)
		})
	if !opinion.HasOpinion || !opinion.Flagged {
		return
	}

	s.log.WarnCtx("gaming pattern flagged", map[string]any{
		"task_id": taskID, "phase": current.String(), "detail": opinion.Detail,
	})
	note := "gaming pattern flagged at verification boundary: " + opinion.Detail
	if err := s.registry.AddAuditNote(ctx, taskID, note); err != nil {
		s.log.WarnCtx("audit note failed", map[string]any{"task_id": taskID, "error": err.Error()})
	}
}

// classifyLevel runs the advisory verification-level classifier and logs when
// the observed level falls below the phase's floor.
func (s *Sequencer) classifyLevel(ctx context.Context, taskID string, current phase.Phase) {
	minimum, ok := s.minimumLevels[current]
	if s.classifier == nil || !ok {
		return
	}

	dir := s.evidence.Dir(taskID, current)
	opinion := gates.RunFailOpen(ctx, "level-classifier", s.probeTimeout,
		func(ctx context.Context) (gates.Opinion, error) {
			level, err := s.classifier.Classify(ctx, dir)
			if err != nil {
				return gates.Opinion{}, err
			}
			return gates.Opinion{HasOpinion: true, Detail: level}, nil
		})
	if !opinion.HasOpinion {
		return
	}

	if levelRank[opinion.Detail] < levelRank[minimum] {
		s.log.WarnCtx("verification level below minimum", map[string]any{
			"task_id": taskID, "phase": current.String(),
			"observed": opinion.Detail, "minimum": minimum,
		})
	}
}
