// Package escalation resolves form-filling interruptions, first automatically and then
// through the human operator, always within a bounded wait.
package escalation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/captcha"
	"github.com/jonathan/apply-orchestrator/internal/notify"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Solver types recorded on interruption outcomes.
const (
	SolverExternal = "external_service"
	SolverHuman    = "human"
	SolverAuto     = "auto"
)

// Poll budgets per challenge kind.
const (
	ImagePolls     = 10
	ImageInterval  = 3 * time.Second
	WidgetPolls    = 20
	WidgetInterval = 5 * time.Second

	DefaultHumanTimeout = 5 * time.Minute
)

// Config configures a Broker.
type Config struct {
	HumanTimeout time.Duration
	// AutoAcknowledgeReview resolves review checkpoints without asking the operator.
	// The task still ends held for review, never submitted.
	AutoAcknowledgeReview bool
	// Sleep waits between polls. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now overrides the clock.
	Now func() time.Time
}

// Observer receives a copy of the interruption after every resolution attempt.
type Observer func(intr types.Interruption)

// Broker moves an Interruption from pending to resolved or abandoned.
type Broker struct {
	solver   captcha.Solver
	notifier notify.Notifier
	cfg      Config
}

// NewBroker creates a broker. solver and notifier may be nil.
func NewBroker(solver captcha.Solver, notifier notify.Notifier, cfg Config) *Broker {
	if cfg.HumanTimeout <= 0 {
		cfg.HumanTimeout = DefaultHumanTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broker{solver: solver, notifier: notifier, cfg: cfg}
}

// PollBudget returns the number of polls and the interval for a captcha kind.
func PollBudget(kind types.CaptchaKind) (int, time.Duration) {
	if kind == types.CaptchaImage {
		return ImagePolls, ImageInterval
	}
	return WidgetPolls, WidgetInterval
}

// Resolve drives intr to a terminal status. The only error returned is context
// cancellation, in which case intr is abandoned.
func (b *Broker) Resolve(ctx context.Context, task *types.ApplicationTask, intr *types.Interruption, observe Observer) error {
	if observe == nil {
		observe = func(types.Interruption) {}
	}
	intr.Status = types.InterruptionResolving
	log.Printf("[ESCALATION] %s interruption on %s", intr.Type, task.Domain)

	switch intr.Type {
	case types.InterruptCaptcha:
		if b.solveCaptcha(ctx, intr) {
			observe(*intr)
			return nil
		}
		if err := ctx.Err(); err != nil {
			b.abandon(intr, "cancelled while solving captcha")
			observe(*intr)
			return err
		}
		log.Printf("[ESCALATION] captcha not solved automatically (%s), escalating to human", intr.Reason)
		observe(*intr)

	case types.InterruptReviewCheckpoint:
		if b.cfg.AutoAcknowledgeReview {
			intr.SolverType = SolverAuto
			b.resolve(intr, &types.Resolution{HumanNote: "continue"})
			observe(*intr)
			return nil
		}
	}

	err := b.askHuman(ctx, task, intr)
	observe(*intr)
	return err
}

// solveCaptcha returns true when the external solver produced an answer.
func (b *Broker) solveCaptcha(ctx context.Context, intr *types.Interruption) bool {
	intr.SolverType = SolverExternal
	if b.solver == nil {
		intr.Reason = "no captcha solver configured"
		return false
	}

	handle, err := b.solver.Submit(ctx, captcha.Challenge{
		Kind:        intr.CaptchaKind,
		SiteKey:     intr.SiteKey,
		PageURL:     intr.PageURL,
		ImageBase64: intr.ImageBase64,
	})
	if err != nil {
		intr.Reason = fmt.Sprintf("submit failed: %v", err)
		return false
	}

	polls, interval := PollBudget(intr.CaptchaKind)
	for attempt := 1; attempt <= polls; attempt++ {
		if err := b.cfg.Sleep(ctx, interval); err != nil {
			intr.Reason = "cancelled"
			return false
		}
		intr.Attempts++

		result, err := b.solver.Poll(ctx, handle)
		if err != nil {
			var svcErr *captcha.ServiceError
			if errors.As(err, &svcErr) {
				intr.Reason = fmt.Sprintf("solver error: %s", svcErr.Code)
				return false
			}
			log.Printf("[ESCALATION] poll %d/%d failed: %v", attempt, polls, err)
			continue
		}
		if result.Ready {
			log.Printf("[ESCALATION] captcha solved after %d polls", attempt)
			b.resolve(intr, &types.Resolution{Token: result.Token, Text: result.Text})
			return true
		}
	}

	intr.Reason = fmt.Sprintf("no solution after %d polls", polls)
	return false
}

// askHuman notifies the operator and waits for a reply.
func (b *Broker) askHuman(ctx context.Context, task *types.ApplicationTask, intr *types.Interruption) error {
	intr.SolverType = SolverHuman
	intr.Attempts++

	if b.notifier == nil {
		b.abandon(intr, "no notification channel configured")
		return nil
	}

	ref := ReplyRef(task)
	msg := notify.Message{Text: humanMessage(task, intr, ref, b.cfg.HumanTimeout), Caption: ref + " " + string(intr.Type), Ref: ref}
	if intr.ImageBase64 != "" {
		if png, err := base64.StdEncoding.DecodeString(intr.ImageBase64); err == nil {
			msg.Photo = png
		}
	}

	delivered, err := b.notifier.Send(ctx, msg)
	if err != nil || !delivered {
		reason := "notification not delivered"
		if err != nil {
			reason = fmt.Sprintf("notification failed: %v", err)
		}
		b.abandon(intr, reason)
		return ctx.Err()
	}

	reply, ok, err := b.notifier.AwaitReply(ctx, ref, b.cfg.HumanTimeout)
	switch {
	case ctx.Err() != nil:
		b.abandon(intr, "cancelled while waiting for operator")
		return ctx.Err()
	case err != nil:
		b.abandon(intr, fmt.Sprintf("waiting for reply failed: %v", err))
	case !ok:
		b.abandon(intr, fmt.Sprintf("no reply within %s", b.cfg.HumanTimeout))
	case IsResumeReply(reply):
		log.Printf("[ESCALATION] operator replied %q, resuming", reply)
		b.resolve(intr, &types.Resolution{HumanNote: reply})
	default:
		b.abandon(intr, fmt.Sprintf("operator replied %q", reply))
	}
	return nil
}

// ReplyRef is the short task ID operators use to address a reply.
func ReplyRef(task *types.ApplicationTask) string {
	return task.ID.String()[:8]
}

// IsResumeReply reports whether an operator reply resolves an interruption.
func IsResumeReply(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "continue", "retry", "fixed":
		return true
	}
	return false
}

func (b *Broker) resolve(intr *types.Interruption, res *types.Resolution) {
	now := b.cfg.Now()
	intr.Status = types.InterruptionResolved
	intr.Resolution = res
	intr.Reason = ""
	intr.ResolvedAt = &now
}

func (b *Broker) abandon(intr *types.Interruption, reason string) {
	now := b.cfg.Now()
	intr.Status = types.InterruptionAbandoned
	intr.Reason = reason
	intr.ResolvedAt = &now
	log.Printf("[ESCALATION] %s interruption abandoned: %s", intr.Type, reason)
}

func humanMessage(task *types.ApplicationTask, intr *types.Interruption, ref string, timeout time.Duration) string {
	var sb strings.Builder
	sb.WriteString("🚨 Manual intervention needed\n\n")
	sb.WriteString(fmt.Sprintf("Issue: %s\n", intr.Type))
	sb.WriteString(fmt.Sprintf("Job: %s at %s\n", task.Job.Title, task.Job.Company))
	if intr.PageURL != "" {
		sb.WriteString(fmt.Sprintf("Page: %s\n", intr.PageURL))
	}
	if intr.Message != "" {
		sb.WriteString(fmt.Sprintf("Details: %s\n", intr.Message))
	}
	if intr.Reason != "" {
		sb.WriteString(fmt.Sprintf("Automatic solving: %s\n", intr.Reason))
	}
	sb.WriteString(fmt.Sprintf("Ref: %s\n", ref))
	sb.WriteString("\nTake the necessary action in the browser, then reply to this message")
	sb.WriteString(fmt.Sprintf(" (or start your message with %s):\n", ref))
	sb.WriteString("  'continue', 'retry' or 'fixed' to resume\n")
	sb.WriteString("  anything else to give up on this application\n")
	sb.WriteString(fmt.Sprintf("\nYou have %s to respond.", timeout.Round(time.Second)))
	return sb.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
