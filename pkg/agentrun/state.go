// Package agentrun implements the Agent run driver (§4.H): prompt assembly,
// the model-event stream loop, tool-call dispatch, retry-on-transient-
// failure, and fan-out to TurnEvent subscribers. Adapted from the teacher's
// pkg/ai/agent (conversation.go's Run(ctx) state-machine loop, state.go's
// transition table, listener.go's callback fan-out, messages.go's message
// shapes) — kept verbatim in shape, renamed to this package's Phase names.
package agentrun

// Phase is the driver's internal state for one turn, distinct from
// scheduler.TurnState (which tracks queue lifecycle): Phase tracks where
// within a single run the driver currently is.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseToolAnalysis
	PhaseWaitingForApproval
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseToolAnalysis:
		return "tool-analysis"
	case PhaseWaitingForApproval:
		return "waiting-for-approval"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// validTransitions mirrors the teacher's CanTransitionTo table.
var validTransitions = map[Phase][]Phase{
	PhaseRunning:            {PhaseToolAnalysis, PhaseDone, PhaseError},
	PhaseToolAnalysis:       {PhaseWaitingForApproval, PhaseRunning, PhaseDone, PhaseError},
	PhaseWaitingForApproval: {PhaseRunning, PhaseError},
	PhaseDone:               {},
	PhaseError:              {},
}

// CanTransitionTo reports whether moving from p to target is a legal
// transition in the driver's state machine.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, t := range validTransitions[p] {
		if t == target {
			return true
		}
	}
	return false
}
