// Package phase defines the fixed task lifecycle sequence and its ordering
// rules. Phase order is significant: the only legal forward target from a
// phase is the next index, and any earlier index is a backtrack.
package phase

import "fmt"

// Phase is one stage in the task lifecycle.
type Phase string

const (
	Strategize Phase = "STRATEGIZE"
	Spec       Phase = "SPEC"
	Plan       Phase = "PLAN"
	Think      Phase = "THINK"
	Implement  Phase = "IMPLEMENT"
	Verify     Phase = "VERIFY"
	Review     Phase = "REVIEW"
	PR         Phase = "PR"
	Monitor    Phase = "MONITOR"
)

// Sequence is the complete lifecycle in execution order.
var Sequence = []Phase{
	Strategize, Spec, Plan, Think, Implement, Verify, Review, PR, Monitor,
}

// indexOf maps each phase to its position in Sequence.
var indexOf = func() map[Phase]int {
	m := make(map[Phase]int, len(Sequence))
	for i, p := range Sequence {
		m[p] = i
	}
	return m
}()

// First returns the entry phase of the lifecycle.
func First() Phase {
	return Sequence[0]
}

// Last returns the terminal phase of the lifecycle.
func Last() Phase {
	return Sequence[len(Sequence)-1]
}

// Index returns the position of p in the sequence, or -1 if p is unknown.
func (p Phase) Index() int {
	i, ok := indexOf[p]
	if !ok {
		return -1
	}
	return i
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := indexOf[p]
	return ok
}

// IsLast reports whether p is the terminal phase.
func (p Phase) IsLast() bool {
	return p == Last()
}

// Next returns the phase after p. ok is false when p is terminal or unknown.
func (p Phase) Next() (next Phase, ok bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(Sequence) {
		return "", false
	}
	return Sequence[i+1], true
}

// Before reports whether p comes strictly earlier than other in the sequence.
// Unknown phases are never considered earlier.
func (p Phase) Before(other Phase) bool {
	pi, oi := p.Index(), other.Index()
	return pi >= 0 && oi >= 0 && pi < oi
}

func (p Phase) String() string {
	return string(p)
}

// Parse converts a string to a Phase, case-sensitively.
func Parse(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
