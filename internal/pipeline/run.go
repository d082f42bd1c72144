// Package pipeline drives application tasks through the orchestrator state machine:
// admission, effort planning, content generation, form filling with escalation,
// the quality gate and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/browser"
	"github.com/jonathan/apply-orchestrator/internal/content"
	"github.com/jonathan/apply-orchestrator/internal/domainpolicy"
	"github.com/jonathan/apply-orchestrator/internal/escalation"
	"github.com/jonathan/apply-orchestrator/internal/notify"
	"github.com/jonathan/apply-orchestrator/internal/planning"
	"github.com/jonathan/apply-orchestrator/internal/qa"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultMaxFillAttempts bounds Fill calls per task, counting retries after resolved interruptions.
const DefaultMaxFillAttempts = 3

// Actor is recorded on every status change made by the orchestrator.
const Actor = "orchestrator"

// Progress categories
const (
	CategoryTransition   = "transition"
	CategoryInterruption = "interruption"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step          string `json:"step"`
	Category      string `json:"category"`
	Message       string `json:"message"`
	ApplicationID string `json:"application_id,omitempty"`
	Content       any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Admitter is the domain policy guard as seen by the orchestrator.
type Admitter interface {
	Check(ctx context.Context, domain string) (domainpolicy.Admission, error)
	RecordOutcome(ctx context.Context, domain string, success bool) error
}

// Generator produces the content an effort tier calls for.
type Generator interface {
	GenerateAll(ctx context.Context, kinds []planning.GenerationKind, req content.Request) (types.Artifacts, types.Usage, error)
}

// Filler runs one form-filling attempt.
type Filler interface {
	Fill(ctx context.Context, task *types.ApplicationTask, artifacts types.Artifacts, resolved *types.Interruption) browser.Outcome
}

// Resolver drives an interruption to resolved or abandoned.
type Resolver interface {
	Resolve(ctx context.Context, task *types.ApplicationTask, intr *types.Interruption, observe escalation.Observer) error
}

// Tracker mirrors finished tasks into an external tracker.
type Tracker interface {
	Track(ctx context.Context, task types.ApplicationTask) error
}

// Deps are the collaborators of an Orchestrator. Notifier and Tracker are optional.
type Deps struct {
	Store     store.ApplicationStore
	Guard     Admitter
	Generator Generator
	Filler    Filler
	Broker    Resolver
	Notifier  notify.Notifier
	Tracker   Tracker
}

// Options configures an Orchestrator.
type Options struct {
	MaxFillAttempts int
	OnProgress      ProgressCallback
	Now             func() time.Time
}

// Orchestrator moves tasks from queued to a terminal status. It is safe for
// concurrent use; each Run owns its task.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxFillAttempts <= 0 {
		opts.MaxFillAttempts = DefaultMaxFillAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Run drives a queued task to review_ready, failed or skipped. Stage failures are
// recorded on the task, not returned; the error is non-nil only when the terminal
// state itself could not be persisted or the task was not queued.
func (o *Orchestrator) Run(ctx context.Context, task *types.ApplicationTask) error {
	if task.Status == "" {
		task.Status = types.StatusQueued
	}
	if task.Status != types.StatusQueued {
		return fmt.Errorf("application %s is %s, expected %s", task.ID, task.Status, types.StatusQueued)
	}

	r := &run{o: o, task: task, release: func() {}}
	return r.finish(ctx, r.execute(ctx))
}

// run is the state of one Run call.
type run struct {
	o    *Orchestrator
	task *types.ApplicationTask

	seq     int
	release func()

	reachedFilling  bool
	outcomeRecorded bool
}

func (r *run) execute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[PIPELINE] %s: recovered from panic: %v", r.task.ID, p)
			err = &PanicError{Value: p}
		}
	}()
	defer func() { r.release() }()

	if err := r.start(ctx); err != nil {
		return err
	}
	if err := r.admit(ctx); err != nil {
		return err
	}
	if err := r.plan(ctx); err != nil {
		return err
	}
	if err := r.generate(ctx); err != nil {
		return err
	}
	if err := r.fill(ctx); err != nil {
		return err
	}
	return r.review(ctx)
}

// start persists the queued task and continues its event sequence.
func (r *run) start(ctx context.Context) error {
	events, err := r.o.deps.Store.ListEvents(ctx, r.task.ID)
	if err != nil {
		return &StorageFailure{Op: "load events", Cause: err}
	}
	for _, e := range events {
		if e.Sequence > r.seq {
			r.seq = e.Sequence
		}
	}

	now := r.o.opts.Now()
	r.task.StartedAt = &now
	if err := r.o.deps.Store.SaveApplication(ctx, r.task); err != nil {
		return &StorageFailure{Op: "save application", Cause: err}
	}
	return r.event(ctx, string(types.StatusQueued), "Application accepted", map[string]any{
		"target_url": r.task.TargetURL,
		"company":    r.task.Job.Company,
		"title":      r.task.Job.Title,
	})
}

func (r *run) admit(ctx context.Context) error {
	if r.task.Domain == "" {
		domain, err := domainpolicy.DomainFromURL(r.task.TargetURL)
		if err != nil {
			return &AdmissionDenied{Domain: r.task.TargetURL, Reason: "Invalid target URL"}
		}
		r.task.Domain = domain
	}

	adm, err := r.o.deps.Guard.Check(ctx, r.task.Domain)
	if err != nil {
		return &StorageFailure{Op: "check domain admission", Cause: err}
	}
	if adm.Release != nil {
		r.release = adm.Release
	}
	if !adm.Allowed {
		return &AdmissionDenied{Domain: r.task.Domain, Reason: adm.Reason}
	}
	return r.transition(ctx, types.StatusPlanning, "Domain admitted", map[string]any{"domain": r.task.Domain})
}

func (r *run) plan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decision := planning.Decide(r.task.UserHint, r.task.MatchScore, r.task.Job.CompanyTier)
	r.task.Effort = &decision
	if decision.Skip {
		return &PlannerSkip{Reason: decision.Reason}
	}
	return r.transition(ctx, types.StatusGenerating, decision.Reason, map[string]any{
		"tier":        string(decision.Tier),
		"match_score": r.task.MatchScore,
	})
}

func (r *run) generate(ctx context.Context) error {
	kinds := planning.GenerationKinds(r.task.Effort.Tier)
	artifacts, usage, err := r.o.deps.Generator.GenerateAll(ctx, kinds, content.Request{
		ApplicationID: r.task.ID,
		Job:           r.task.Job,
		Profile:       r.task.Profile,
		Effort:        r.task.Effort.Tier,
	})
	r.task.Usage = r.task.Usage.Add(usage)
	if err != nil {
		return &GenerationFailure{Cause: err}
	}
	r.task.Artifacts = artifacts

	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	reason := "No generated content needed"
	if len(names) > 0 {
		reason = fmt.Sprintf("Generated %d artifact(s)", len(names))
	}
	return r.transition(ctx, types.StatusFilling, reason, map[string]any{
		"kinds":      names,
		"tokens_in":  usage.TokensIn,
		"tokens_out": usage.TokensOut,
		"cost_usd":   usage.CostUSD,
	})
}

// fill runs the form filler until the form is filled, escalating interruptions in between.
// MaxFillAttempts bounds the fill calls that ended in a failure or an interruption
// other than a confirmed review checkpoint; confirmed checkpoints have their own
// bound of the same size.
func (r *run) fill(ctx context.Context) error {
	r.reachedFilling = true

	var resolved *types.Interruption
	attempts, reviews := 0, 0
	for call := 1; ; call++ {
		if attempts >= r.o.opts.MaxFillAttempts || reviews >= r.o.opts.MaxFillAttempts {
			return &AttemptsExhausted{Attempts: call - 1}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := r.o.deps.Filler.Fill(ctx, r.task, r.task.Artifacts, resolved)
		switch outcome.Status {
		case browser.OutcomeFilled:
			r.task.Answers = outcome.Answers
			r.recordOutcome(ctx, true)
			return nil

		case browser.OutcomeInterrupted:
			if outcome.Interruption == nil {
				return &DriverFailure{Attempt: call, Cause: errors.New("interrupted without interruption details")}
			}
			if err := r.escalate(ctx, outcome.Interruption); err != nil {
				return err
			}
			if outcome.Interruption.Type == types.InterruptReviewCheckpoint {
				reviews++
			} else {
				attempts++
			}
			resolved = outcome.Interruption

		default:
			cause := outcome.Err
			if cause == nil {
				cause = errors.New("browser agent reported failure")
			}
			return &DriverFailure{Attempt: call, Cause: cause}
		}
	}
}

func (r *run) escalate(ctx context.Context, intr *types.Interruption) error {
	err := r.transition(ctx, types.StatusAwaitingHuman, fmt.Sprintf("%s interruption", intr.Type), map[string]any{
		"interruption": string(intr.Type),
		"page_url":     intr.PageURL,
		"captcha_kind": string(intr.CaptchaKind),
	})
	if err != nil {
		return err
	}
	if err := r.o.deps.Store.SaveInterruption(ctx, r.task.ID, intr); err != nil {
		return &StorageFailure{Op: "save interruption", Cause: err}
	}

	var recordErr error
	err = r.o.deps.Broker.Resolve(ctx, r.task, intr, func(snapshot types.Interruption) {
		if err := r.recordInterruption(ctx, &snapshot); err != nil && recordErr == nil {
			recordErr = err
		}
	})
	if err != nil {
		return err
	}
	if recordErr != nil {
		return recordErr
	}

	if intr.Status != types.InterruptionResolved {
		return &InterruptionAbandoned{Type: intr.Type, Reason: intr.Reason}
	}
	return r.transition(ctx, types.StatusFilling, fmt.Sprintf("%s interruption resolved by %s", intr.Type, intr.SolverType), map[string]any{
		"interruption": string(intr.Type),
		"solver_type":  intr.SolverType,
		"attempts":     intr.Attempts,
	})
}

// recordInterruption stores one resolution attempt and its event.
func (r *run) recordInterruption(ctx context.Context, intr *types.Interruption) error {
	if err := r.o.deps.Store.SaveInterruption(ctx, r.task.ID, intr); err != nil {
		return &StorageFailure{Op: "save interruption", Cause: err}
	}
	detail := fmt.Sprintf("%s %s via %s after %d attempt(s)", intr.Type, intr.Status, intr.SolverType, intr.Attempts)
	if intr.Reason != "" {
		detail += ": " + intr.Reason
	}
	payload := map[string]any{
		"solver_type": intr.SolverType,
		"attempts":    intr.Attempts,
		"status":      string(intr.Status),
		"artifact":    intr.ArtifactRef(),
	}
	if err := r.event(ctx, string(intr.Type)+"_attempt", detail, payload); err != nil {
		return err
	}
	r.o.emit(ProgressEvent{
		Step:          string(intr.Type),
		Category:      CategoryInterruption,
		Message:       detail,
		ApplicationID: r.task.ID.String(),
		Content:       payload,
	})
	return nil
}

// review runs the quality gate when the tier requires it, then holds the task for review.
func (r *run) review(ctx context.Context) error {
	required, qaType := planning.RequiresQA(r.task.Effort.Tier, r.task.Job.CompanyTier)
	if required {
		err := r.transition(ctx, types.StatusQAReview, fmt.Sprintf("Running %s", qaType), map[string]any{"qa_type": string(qaType)})
		if err != nil {
			return err
		}

		result := qa.Validate(r.task.Answers, r.task.Artifacts.CoverLetter, r.task.Profile)
		if len(result.Issues) > 0 {
			if err := r.o.deps.Store.SaveQAIssues(ctx, r.task.ID, result.Issues); err != nil {
				return &StorageFailure{Op: "save QA issues", Cause: err}
			}
		}
		if !result.Passed() {
			return &QARejection{Issues: result.Issues}
		}
	}

	return r.terminal(ctx, types.StatusReviewReady, "Form filled and held for review", map[string]any{
		"tokens_in":  r.task.Usage.TokensIn,
		"tokens_out": r.task.Usage.TokensOut,
		"cost_usd":   r.task.Usage.CostUSD,
		"answers":    len(r.task.Answers),
	})
}

// finish converts a stage error into the skipped or failed terminal status.
func (r *run) finish(ctx context.Context, stageErr error) error {
	if stageErr == nil {
		return nil
	}
	wctx := context.WithoutCancel(ctx)

	if r.reachedFilling {
		r.recordOutcome(wctx, false)
	}

	if reason, ok := skipReason(stageErr); ok {
		return r.terminal(wctx, types.StatusSkipped, reason, nil)
	}

	code, manual := Classify(stageErr)
	if ctx.Err() != nil {
		code, manual = CodeCancelled, false
	}
	r.task.FailureCode = string(code)
	r.task.FailureDetail = stageErr.Error()
	r.task.ManualFollowupNeeded = manual

	payload := map[string]any{
		"failure_code":           string(code),
		"manual_followup_needed": manual,
	}
	var rej *QARejection
	if errors.As(stageErr, &rej) {
		payload["issues"] = len(rej.Issues)
	}
	return r.terminal(wctx, types.StatusFailed, stageErr.Error(), payload)
}

func (r *run) terminal(ctx context.Context, status types.Status, reason string, payload map[string]any) error {
	now := r.o.opts.Now()
	r.task.CompletedAt = &now

	if err := r.transition(ctx, status, reason, payload); err != nil {
		if status == types.StatusFailed {
			// nothing left to fall back to
			r.task.Status = status
			r.task.Reason = reason
			log.Printf("[PIPELINE] %s: failed to persist terminal status: %v", r.task.ID, err)
		}
		return err
	}

	if r.o.deps.Notifier != nil && status != types.StatusSkipped {
		notify.NotifyCompletion(context.WithoutCancel(ctx), r.o.deps.Notifier, r.task.Job.Company, r.task.Job.Title, string(status), reason)
	}
	if r.o.deps.Tracker != nil {
		if err := r.o.deps.Tracker.Track(context.WithoutCancel(ctx), *r.task); err != nil {
			log.Printf("[PIPELINE] %s: warning: %v", r.task.ID, err)
		}
	}
	return nil
}

// recordOutcome feeds the domain ledger at most once per run.
func (r *run) recordOutcome(ctx context.Context, success bool) {
	if r.outcomeRecorded {
		return
	}
	r.outcomeRecorded = true
	if err := r.o.deps.Guard.RecordOutcome(context.WithoutCancel(ctx), r.task.Domain, success); err != nil {
		log.Printf("[PIPELINE] warning: %v", err)
	}
}

// transition persists the new status, its history row and its event before the
// task is considered to have moved.
func (r *run) transition(ctx context.Context, to types.Status, reason string, payload map[string]any) error {
	from := r.task.Status
	if err := ValidateTransition(from, to); err != nil {
		return err
	}

	prevReason := r.task.Reason
	r.task.Status = to
	r.task.Reason = reason
	if err := r.o.deps.Store.SaveApplication(ctx, r.task); err != nil {
		r.task.Status = from
		r.task.Reason = prevReason
		return &StorageFailure{Op: "save application", Cause: err}
	}

	change := types.StatusChange{
		ApplicationID: r.task.ID,
		Old:           from,
		New:           to,
		Reason:        reason,
		Actor:         Actor,
		At:            r.o.opts.Now(),
	}
	if err := r.o.deps.Store.RecordStatusChange(ctx, change); err != nil {
		r.task.Status = from
		r.task.Reason = prevReason
		return &StorageFailure{Op: "record status change", Cause: err}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	if err := r.event(ctx, string(to), reason, payload); err != nil {
		r.task.Status = from
		r.task.Reason = prevReason
		return err
	}

	log.Printf("[PIPELINE] %s: %s -> %s (%s)", r.task.ID, from, to, reason)
	r.o.emit(ProgressEvent{
		Step:          string(to),
		Category:      CategoryTransition,
		Message:       reason,
		ApplicationID: r.task.ID.String(),
		Content:       payload,
	})
	return nil
}

// event appends the next event in the task's sequence.
func (r *run) event(ctx context.Context, eventType, detail string, payload map[string]any) error {
	e := types.Event{
		ApplicationID: r.task.ID,
		Sequence:      r.seq + 1,
		Type:          eventType,
		Detail:        detail,
		Payload:       payload,
		CreatedAt:     r.o.opts.Now(),
	}
	if err := r.o.deps.Store.AppendEvent(ctx, e); err != nil {
		return &StorageFailure{Op: "append event", Cause: err}
	}
	r.seq = e.Sequence
	return nil
}

// emit calls the progress callback if configured
func (o *Orchestrator) emit(event ProgressEvent) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(event)
	}
}
