// Package phase defines the fixed trial phase sequence and its transition
// rules.
package phase

// Phase represents one stage of the trial sequence.
type Phase string

const (
	OpeningStatements    Phase = "opening_statements"
	EvidencePresentation Phase = "evidence_presentation"
	WitnessExamination   Phase = "witness_examination"
	ClosingArguments     Phase = "closing_arguments"
	Deliberation         Phase = "deliberation"
	Verdict              Phase = "verdict"
	// Completed is terminal and reachable only from Verdict.
	Completed Phase = "completed"
)

// Sequence is the ordered set of playable phases. Completed is excluded: it
// is entered by recording a verdict, never by a phase_advanced event.
var Sequence = []Phase{
	OpeningStatements,
	EvidencePresentation,
	WitnessExamination,
	ClosingArguments,
	Deliberation,
	Verdict,
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == Completed {
		return true
	}
	for _, s := range Sequence {
		if p == s {
			return true
		}
	}
	return false
}

// Next returns the phase following p in the fixed sequence. The second
// return is false when p has no successor reachable via advance
// (Deliberation exits only through verdict_recorded, Verdict and Completed
// are past the advance path).
func (p Phase) Next() (Phase, bool) {
	for i, s := range Sequence {
		if p != s {
			continue
		}
		if s == Deliberation {
			return "", false
		}
		if i+1 < len(Sequence) {
			return Sequence[i+1], true
		}
	}
	return "", false
}

// CanTransitionTo checks if moving from p to target is legal.
func (p Phase) CanTransitionTo(target Phase) bool {
	if p == Deliberation && target == Verdict {
		return true
	}
	if p == Verdict && target == Completed {
		return true
	}
	next, ok := p.Next()
	return ok && next == target
}

// Terminal reports whether no further play happens in p.
func (p Phase) Terminal() bool {
	return p == Completed
}
