package session

import "fmt"

// Phase is the stage a scan session is in. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseZooming
	PhaseDetectingText
	PhaseAwaitingColumnResolution
	PhaseCropping
	PhaseCollapsing
	PhaseDone
)

var phaseNames = [...]string{
	PhaseIdle:                     "idle",
	PhaseZooming:                  "zooming",
	PhaseDetectingText:            "detecting_text",
	PhaseAwaitingColumnResolution: "awaiting_column_resolution",
	PhaseCropping:                 "cropping",
	PhaseCollapsing:               "collapsing",
	PhaseDone:                     "done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Outcome is how a session ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }
