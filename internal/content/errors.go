package content

import (
	"fmt"

	"github.com/jonathan/apply-orchestrator/internal/planning"
)

// GenerationError reports a failed generation of one content kind.
type GenerationError struct {
	Kind    planning.GenerationKind
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s generation failed: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s generation failed: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
