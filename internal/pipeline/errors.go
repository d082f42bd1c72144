package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// FailureCode identifies why a task ended in the failed state.
type FailureCode string

// Failure codes
const (
	CodeGenerationFailed      FailureCode = "generation_failed"
	CodeDriverFailed          FailureCode = "driver_failed"
	CodeInterruptionAbandoned FailureCode = "interruption_abandoned"
	CodeQARejected            FailureCode = "qa_rejected"
	CodeStorageFailed         FailureCode = "storage_failed"
	CodeFillAttemptsExhausted FailureCode = "fill_attempts_exhausted"
	CodeCancelled             FailureCode = "cancelled"
	CodeInternal              FailureCode = "internal_error"
)

// AdmissionDenied means the domain guard refused the task. It ends the task as skipped.
type AdmissionDenied struct {
	Domain string
	Reason string
}

func (e *AdmissionDenied) Error() string {
	return fmt.Sprintf("admission denied for %s: %s", e.Domain, e.Reason)
}

// PlannerSkip means the effort planner decided the task is not worth pursuing.
type PlannerSkip struct {
	Reason string
}

func (e *PlannerSkip) Error() string {
	return "skipped by planner: " + e.Reason
}

// GenerationFailure means a language model call failed. No partial artifacts are kept.
type GenerationFailure struct {
	Cause error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("content generation failed: %v", e.Cause)
}

func (e *GenerationFailure) Unwrap() error {
	return e.Cause
}

// DriverFailure means the browser agent could not fill the form.
type DriverFailure struct {
	Attempt int
	Cause   error
}

func (e *DriverFailure) Error() string {
	return fmt.Sprintf("form filling failed on attempt %d: %v", e.Attempt, e.Cause)
}

func (e *DriverFailure) Unwrap() error {
	return e.Cause
}

// InterruptionAbandoned means a captcha, 2FA prompt or review checkpoint was not resolved.
type InterruptionAbandoned struct {
	Type   types.InterruptionType
	Reason string
}

func (e *InterruptionAbandoned) Error() string {
	return fmt.Sprintf("unresolved %s interruption: %s", e.Type, e.Reason)
}

// QARejection means the quality gate found content inconsistent with the profile truth.
type QARejection struct {
	Issues []types.QAIssue
}

func (e *QARejection) Error() string {
	return fmt.Sprintf("quality gate found %d issue(s)", len(e.Issues))
}

// AttemptsExhausted means the fill loop hit its bound before the form was filled.
type AttemptsExhausted struct {
	Attempts int
}

func (e *AttemptsExhausted) Error() string {
	return fmt.Sprintf("form still not filled after %d attempts", e.Attempts)
}

// StorageFailure means a state transition could not be persisted.
type StorageFailure struct {
	Op    string
	Cause error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Cause)
}

func (e *StorageFailure) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking stage.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage panicked: %v", e.Value)
}

// skipReason returns the reason for skip verdicts, which are not failures.
func skipReason(err error) (string, bool) {
	var denied *AdmissionDenied
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	var skip *PlannerSkip
	if errors.As(err, &skip) {
		return skip.Reason, true
	}
	return "", false
}

// Classify maps a stage error to a failure code and whether a human must follow up.
func Classify(err error) (FailureCode, bool) {
	var (
		gen     *GenerationFailure
		drv     *DriverFailure
		intr    *InterruptionAbandoned
		rej     *QARejection
		att     *AttemptsExhausted
		storage *StorageFailure
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled, false
	case errors.As(err, &intr):
		return CodeInterruptionAbandoned, true
	case errors.As(err, &rej):
		return CodeQARejected, true
	case errors.As(err, &att):
		return CodeFillAttemptsExhausted, true
	case errors.As(err, &gen):
		return CodeGenerationFailed, false
	case errors.As(err, &drv):
		return CodeDriverFailed, false
	case errors.As(err, &storage):
		return CodeStorageFailed, true
	default:
		return CodeInternal, true
	}
}
