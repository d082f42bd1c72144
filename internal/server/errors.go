package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/jobs"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/store"
)

// ErrInvalidParam indicates a malformed path or query parameter.
type ErrInvalidParam struct {
	Name  string
	Value string
}

func (e *ErrInvalidParam) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Name, e.Value)
}

// ErrValidation indicates request body validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		invalidParam   *ErrInvalidParam
		validation     *ErrValidation
		intakeInvalid  *intake.ValidationError
		unknownProfile *intake.UnknownProfileError
		fetchErr       *jobs.Error
		transition     *pipeline.TransitionError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalidParam), errors.As(err, &validation),
		errors.As(err, &intakeInvalid), errors.As(err, &unknownProfile):
		return http.StatusBadRequest
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
