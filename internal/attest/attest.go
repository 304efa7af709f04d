// Package attest detects semantic drift between the governance contract in
// force at transition time and the first-observed baseline for a task's
// phase. The first attestation stores the baseline; later attestations diff
// against it and classify severity.
package attest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/phasegate/internal/ledger"
	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
)

// Severity classifies how badly a contract has drifted.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ContractSpec is the governance contract for one (task, phase): what must
// be produced and which gates must pass. Provenance is optional; absence is
// distinct from mismatch.
type ContractSpec struct {
	TaskID        string             `json:"task_id"`
	Phase         phase.Phase        `json:"phase"`
	RequiredItems []string           `json:"required_items"`
	GateNames     []string           `json:"gate_names"`
	Artifacts     []string           `json:"artifacts"`
	ContextDigest string             `json:"context_digest"`
	Provenance    *ledger.Provenance `json:"provenance,omitempty"`
}

// DriftReport describes the difference between the current contract and its
// baseline.
type DriftReport struct {
	HasDrift bool     `json:"has_drift"`
	Severity Severity `json:"severity,omitempty"`
	Details  []string `json:"details,omitempty"`
}

// Baseline is the stored first observation for a (task, phase).
type Baseline struct {
	TaskID    string       `json:"task_id"`
	Phase     phase.Phase  `json:"phase"`
	Hash      string       `json:"hash"`
	Contract  ContractSpec `json:"contract"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store persists attestation baselines.
type Store interface {
	Get(ctx context.Context, taskID string, ph phase.Phase) (*Baseline, error)
	Put(ctx context.Context, b Baseline) error
}

// Option configures a Detector.
type Option func(*Detector)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(d *Detector) {
		d.nowFunc = f
	}
}

// Detector computes contract hashes and diffs against stored baselines.
type Detector struct {
	store   Store
	log     *logging.Logger
	nowFunc func() time.Time
}

// NewDetector creates a drift detector over the given baseline store.
func NewDetector(store Store, opts ...Option) *Detector {
	d := &Detector{
		store:   store,
		log:     logging.Component("attest"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attest records the baseline on first call for (task, phase) and reports no
// drift. Subsequent calls compare the current contract hash against the
// baseline and classify: a removed required item or a changed gate set is at
// least medium; a core-contract change combined with a required-item removal
// is high.
func (d *Detector) Attest(ctx context.Context, spec ContractSpec) (DriftReport, error) {
	currentHash, err := HashContract(spec)
	if err != nil {
		return DriftReport{}, err
	}

	baseline, err := d.store.Get(ctx, spec.TaskID, spec.Phase)
	if err != nil {
		return DriftReport{}, fmt.Errorf("reading baseline: %w", err)
	}

	if baseline == nil {
		b := Baseline{
			TaskID:    spec.TaskID,
			Phase:     spec.Phase,
			Hash:      currentHash,
			Contract:  spec,
			CreatedAt: d.nowFunc().UTC(),
		}
		if err := d.store.Put(ctx, b); err != nil {
			return DriftReport{}, fmt.Errorf("storing baseline: %w", err)
		}
		d.log.DebugCtx("attestation baseline recorded", map[string]any{
			"task_id": spec.TaskID, "phase": spec.Phase.String(), "hash": currentHash,
		})
		return DriftReport{HasDrift: false}, nil
	}

	if baseline.Hash == currentHash {
		return DriftReport{HasDrift: false}, nil
	}

	report := classify(baseline.Contract, spec)
	d.log.WarnCtx("attestation drift detected", map[string]any{
		"task_id":  spec.TaskID,
		"phase":    spec.Phase.String(),
		"severity": string(report.Severity),
		"details":  report.Details,
	})
	return report, nil
}

// classify diffs the baseline against the current contract and assigns
// severity per the governance rules.
func classify(baseline, current ContractSpec) DriftReport {
	var details []string

	removedRequired, addedRequired := diffSets(baseline.RequiredItems, current.RequiredItems)
	for _, item := range removedRequired {
		details = append(details, "required item removed: "+item)
	}
	for _, item := range addedRequired {
		details = append(details, "required item added: "+item)
	}

	removedGates, addedGates := diffSets(baseline.GateNames, current.GateNames)
	gateSetChanged := len(removedGates) > 0 || len(addedGates) > 0
	for _, g := range removedGates {
		details = append(details, "gate removed: "+g)
	}
	for _, g := range addedGates {
		details = append(details, "gate added: "+g)
	}

	removedArtifacts, addedArtifacts := diffSets(baseline.Artifacts, current.Artifacts)
	for _, a := range removedArtifacts {
		details = append(details, "artifact removed: "+a)
	}
	for _, a := range addedArtifacts {
		details = append(details, "artifact added: "+a)
	}

	if baseline.ContextDigest != current.ContextDigest {
		details = append(details, "context digest changed")
	}
	if provenanceChanged(baseline.Provenance, current.Provenance) {
		details = append(details, "persona/prompt provenance changed")
	}

	coreChanged := coreHash(baseline) != coreHash(current)

	severity := SeverityLow
	if len(removedRequired) > 0 || gateSetChanged {
		severity = SeverityMedium
	}
	if len(removedRequired) > 0 && coreChanged {
		severity = SeverityHigh
	}

	return DriftReport{HasDrift: true, Severity: severity, Details: details}
}

// HashContract returns the canonical SHA-256 hex digest of a contract. Set
// fields are sorted before hashing so ordering differences do not register
// as drift.
func HashContract(spec ContractSpec) (string, error) {
	data, err := json.Marshal(canonicalContract(spec))
	if err != nil {
		return "", fmt.Errorf("canonicalizing contract: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// coreHash covers the contract fields other than required items and
// artifacts: gate set, context digest, and provenance.
func coreHash(spec ContractSpec) string {
	core := struct {
		GateNames     []string           `json:"gate_names"`
		ContextDigest string             `json:"context_digest"`
		Provenance    *ledger.Provenance `json:"provenance,omitempty"`
	}{
		GateNames:     sortedCopy(spec.GateNames),
		ContextDigest: spec.ContextDigest,
		Provenance:    spec.Provenance,
	}
	data, _ := json.Marshal(core)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalContract(spec ContractSpec) ContractSpec {
	spec.RequiredItems = sortedCopy(spec.RequiredItems)
	spec.GateNames = sortedCopy(spec.GateNames)
	spec.Artifacts = sortedCopy(spec.Artifacts)
	return spec
}

func sortedCopy(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	sort.Strings(out)
	return out
}

// diffSets returns the elements removed from and added to a relative to b.
func diffSets(baseline, current []string) (removed, added []string) {
	base := make(map[string]struct{}, len(baseline))
	for _, item := range baseline {
		base[item] = struct{}{}
	}
	cur := make(map[string]struct{}, len(current))
	for _, item := range current {
		cur[item] = struct{}{}
	}

	for _, item := range baseline {
		if _, ok := cur[item]; !ok {
			removed = append(removed, item)
		}
	}
	for _, item := range current {
		if _, ok := base[item]; !ok {
			added = append(added, item)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	return removed, added
}

func provenanceChanged(a, b *ledger.Provenance) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}
