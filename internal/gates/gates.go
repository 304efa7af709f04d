// Package gates runs the named pass/fail predicates that decide whether a
// phase is complete. Each gate is an opaque probe: the engine does not know
// how a probe verifies anything, only whether it passed and whether it was
// required.
package gates

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
)

// DefaultGateTimeout bounds a single probe invocation.
const DefaultGateTimeout = 2 * time.Minute

// CheckFunc is a gate predicate. A nil error means the gate passed.
type CheckFunc func(ctx context.Context) error

// Gate is one named probe. Required gates block phase completion; advisory
// gates are recorded but never block.
type Gate struct {
	Name     string
	Required bool
	Check    CheckFunc
}

// Command builds a gate that passes when the external probe command exits
// zero.
func Command(name string, required bool, command string, args ...string) Gate {
	return Gate{
		Name:     name,
		Required: required,
		Check: func(ctx context.Context) error {
			cmd := exec.CommandContext(ctx, command, args...)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("probe %s: %w (output: %s)", command, err, truncate(string(out), 512))
			}
			return nil
		},
	}
}

// Result is the outcome of one gate evaluation.
type Result struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
}

// Report aggregates a phase's gate evaluations.
type Report struct {
	Results          []Result `json:"results"`
	RequiredFailures []string `json:"required_failures,omitempty"`
	AdvisoryFailures []string `json:"advisory_failures,omitempty"`
}

// Passed reports whether every required gate passed.
func (r Report) Passed() bool {
	return len(r.RequiredFailures) == 0
}

// Names returns the gate names in evaluation order.
func (r Report) Names() []string {
	names := make([]string, len(r.Results))
	for i, res := range r.Results {
		names[i] = res.Name
	}
	return names
}

// Provider supplies the gate set in force for a task's phase.
type Provider interface {
	GatesFor(ctx context.Context, taskID string, ph phase.Phase) ([]Gate, error)
}

// StaticProvider serves a fixed gate set per phase.
type StaticProvider map[phase.Phase][]Gate

// GatesFor returns the configured gates for ph; phases with no configured
// gates have nothing to check.
func (p StaticProvider) GatesFor(_ context.Context, _ string, ph phase.Phase) ([]Gate, error) {
	return p[ph], nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides the per-gate timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// Runner evaluates gates with a bounded per-gate timeout.
type Runner struct {
	timeout time.Duration
	log     *logging.Logger
}

// NewRunner creates a gate runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout: DefaultGateTimeout,
		log:     logging.Component("gates"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates every gate in order. A failing gate never aborts the run;
// the caller gets the full picture.
func (r *Runner) Run(ctx context.Context, gs []Gate) Report {
	report := Report{Results: make([]Result, 0, len(gs))}

	for _, g := range gs {
		gateCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := g.Check(gateCtx)
		cancel()

		res := Result{Name: g.Name, Required: g.Required, Passed: err == nil}
		if err != nil {
			res.Error = err.Error()
			if g.Required {
				report.RequiredFailures = append(report.RequiredFailures, g.Name)
			} else {
				report.AdvisoryFailures = append(report.AdvisoryFailures, g.Name)
			}
			r.log.DebugCtx("gate failed", map[string]any{
				"gate": g.Name, "required": g.Required, "error": err.Error(),
			})
		}
		report.Results = append(report.Results, res)
	}

	return report
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
