package pipeline

import (
	"fmt"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Transitions lists the statuses reachable from each non-terminal status.
// Any non-terminal status may also move to failed.
var Transitions = map[types.Status][]types.Status{
	types.StatusQueued:        {types.StatusPlanning, types.StatusSkipped},
	types.StatusPlanning:      {types.StatusGenerating, types.StatusSkipped},
	types.StatusGenerating:    {types.StatusFilling},
	types.StatusFilling:       {types.StatusQAReview, types.StatusReviewReady, types.StatusAwaitingHuman},
	types.StatusAwaitingHuman: {types.StatusFilling},
	types.StatusQAReview:      {types.StatusReviewReady},
	types.StatusReviewReady:   {types.StatusSubmitted},
}

// TransitionError is returned for a move the state machine does not allow.
type TransitionError struct {
	From types.Status
	To   types.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ValidateTransition checks that from -> to is an edge of the state machine.
func ValidateTransition(from, to types.Status) error {
	if to == types.StatusFailed && !from.IsTerminal() {
		return nil
	}
	for _, next := range Transitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
