package position

// CyclePhase is the per-pair lifecycle state. A pair runs sequential
// cycles: one primary at a time, optionally hedged, then closed before
// the next cycle starts.
type CyclePhase string

const (
	PhaseIdle    CyclePhase = "IDLE"
	PhaseOpening CyclePhase = "OPENING"
	PhaseOpen    CyclePhase = "OPEN"
	PhaseHedging CyclePhase = "HEDGING"
	PhaseClosing CyclePhase = "CLOSING"
)

var phaseNext = map[CyclePhase][]CyclePhase{
	PhaseIdle:    {PhaseOpening},
	PhaseOpening: {PhaseOpen, PhaseIdle}, // back to IDLE on a failed open
	PhaseOpen:    {PhaseHedging, PhaseClosing},
	PhaseHedging: {PhaseOpen, PhaseClosing}, // back to OPEN when the hedge closes first
	PhaseClosing: {PhaseIdle},
}

// CanTransition reports whether moving from p to next is a legal step.
// Illegal steps are invariant violations and must be refused by callers.
func (p CyclePhase) CanTransition(next CyclePhase) bool {
	for _, n := range phaseNext[p] {
		if n == next {
			return true
		}
	}
	return false
}
