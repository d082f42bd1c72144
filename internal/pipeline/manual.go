package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Confirmation types for a submission made outside the pipeline.
const (
	ConfirmedManual = "manual"
	ConfirmedPage   = "page"
	ConfirmedEmail  = "email"
)

// Submission describes a form the operator submitted after review.
type Submission struct {
	Confirmation string `json:"confirmation" validate:"omitempty,oneof=manual page email"`
	Note         string `json:"note" validate:"max=1000"`
}

// ManualTransition moves a task outside an orchestrator run, on behalf of actor.
// The task, its history row and its event are written in that order, and the
// task is left unchanged when the first write fails.
func ManualTransition(ctx context.Context, st store.ApplicationStore, task *types.ApplicationTask, to types.Status, reason, actor string, at time.Time, payload map[string]any) error {
	from := task.Status
	if err := ValidateTransition(from, to); err != nil {
		return err
	}

	events, err := st.ListEvents(ctx, task.ID)
	if err != nil {
		return &StorageFailure{Op: "list events", Cause: err}
	}
	seq := 0
	for _, e := range events {
		seq = max(seq, e.Sequence)
	}

	prevReason := task.Reason
	task.Status = to
	task.Reason = reason
	if err := st.SaveApplication(ctx, task); err != nil {
		task.Status = from
		task.Reason = prevReason
		return &StorageFailure{Op: "save application", Cause: err}
	}

	change := types.StatusChange{
		ApplicationID: task.ID,
		Old:           from,
		New:           to,
		Reason:        reason,
		Actor:         actor,
		At:            at,
	}
	if err := st.RecordStatusChange(ctx, change); err != nil {
		return &StorageFailure{Op: "record status change", Cause: err}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	payload["actor"] = actor
	event := types.Event{
		ApplicationID: task.ID,
		Sequence:      seq + 1,
		Type:          string(to),
		Detail:        reason,
		Payload:       payload,
		CreatedAt:     at,
	}
	if err := st.AppendEvent(ctx, event); err != nil {
		return &StorageFailure{Op: "append event", Cause: err}
	}
	return nil
}

// MarkSubmitted records that a review_ready application was submitted by hand.
func MarkSubmitted(ctx context.Context, st store.ApplicationStore, id uuid.UUID, sub Submission, actor string, at time.Time) (*types.ApplicationTask, error) {
	task, err := st.GetApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if task.Status != types.StatusReviewReady {
		return nil, &TransitionError{From: task.Status, To: types.StatusSubmitted}
	}

	confirmation := sub.Confirmation
	if confirmation == "" {
		confirmation = ConfirmedManual
	}
	reason := fmt.Sprintf("Submitted (%s confirmation)", confirmation)
	if sub.Note != "" {
		reason += ": " + sub.Note
	}

	prevSubmitted := task.SubmittedAt
	task.SubmittedAt = &at
	payload := map[string]any{"confirmation": confirmation}
	if err := ManualTransition(ctx, st, task, types.StatusSubmitted, reason, actor, at, payload); err != nil {
		task.SubmittedAt = prevSubmitted
		return nil, err
	}
	return task, nil
}
