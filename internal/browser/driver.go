package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/ats"
	"github.com/jonathan/apply-orchestrator/internal/prompts"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// OutcomeStatus is the result class of one fill attempt.
type OutcomeStatus string

// Outcome statuses
const (
	OutcomeFilled      OutcomeStatus = "filled"
	OutcomeInterrupted OutcomeStatus = "interrupted"
	OutcomeFailed      OutcomeStatus = "failed"
)

// Outcome is the result of Driver.Fill. Exactly one of the payload fields is meaningful for each status.
type Outcome struct {
	Status       OutcomeStatus
	Summary      string
	Answers      []types.FilledAnswer
	Interruption *types.Interruption
	Err          error
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// CVPath is the file the agent uploads when a form asks for a CV.
	CVPath string
	// ArtifactDir receives interruption screenshots. Empty keeps them in memory only.
	ArtifactDir string
	Headless    bool
	CDPURL      string
}

// Driver turns a task and its artifacts into a browser-agent run.
type Driver struct {
	agent     Agent
	inspector Inspector
	cfg       DriverConfig
}

// NewDriver creates a driver. inspector may be nil.
func NewDriver(agent Agent, inspector Inspector, cfg DriverConfig) *Driver {
	if cfg.CVPath == "" {
		cfg.CVPath = "/app/cv.pdf"
	}
	return &Driver{agent: agent, inspector: inspector, cfg: cfg}
}

// Fill runs one form-filling attempt. resolved is the interruption that was just
// resolved, if this attempt resumes after one; its resolution payload goes to the agent.
// Fill never submits a form: reaching a review page yields a review_checkpoint
// interruption unless that checkpoint was the one just resolved.
func (d *Driver) Fill(ctx context.Context, task *types.ApplicationTask, artifacts types.Artifacts, resolved *types.Interruption) Outcome {
	adapter := ats.Select(task.TargetURL)

	instructions, err := d.Instructions(task, artifacts, adapter)
	if err != nil {
		return failed(err)
	}
	agentTask := AgentTask{
		ApplicationID: task.ID.String(),
		URL:           task.TargetURL,
		Instructions:  instructions,
		Platform:      adapter.Platform,
		Stealth:       adapter.Stealth,
		Headless:      d.cfg.Headless,
		CDPURL:        d.cfg.CDPURL,
	}
	if resolved != nil {
		agentTask.Resolution = resolved.Resolution
		agentTask.Instructions += "\n\n" + resumeHint(resolved)
	}

	log.Printf("[BROWSER] Filling %s (%s adapter)", task.TargetURL, adapter.Platform)
	result, err := d.agent.Execute(ctx, agentTask)
	if err != nil {
		return failed(fmt.Errorf("browser agent failed: %w", err))
	}

	switch result.Status {
	case AgentFilled:
		return Outcome{Status: OutcomeFilled, Summary: result.Summary, Answers: result.Answers}

	case AgentReview:
		if resolved != nil && resolved.Type == types.InterruptReviewCheckpoint {
			return Outcome{Status: OutcomeFilled, Summary: result.Summary, Answers: result.Answers}
		}
		intr := types.NewInterruption(types.InterruptReviewCheckpoint)
		intr.PageURL = firstNonEmpty(result.PageURL, task.TargetURL)
		intr.Message = firstNonEmpty(result.Summary, "Form filled up to the review page")
		d.attachScreenshot(ctx, task, intr, result)
		return Outcome{Status: OutcomeInterrupted, Summary: result.Summary, Answers: result.Answers, Interruption: intr}

	case AgentInterrupted:
		intr, err := d.interruption(ctx, task, result)
		if err != nil {
			return failed(err)
		}
		return Outcome{Status: OutcomeInterrupted, Summary: result.Summary, Answers: result.Answers, Interruption: intr}

	case AgentFailed:
		return failed(errors.New(firstNonEmpty(result.Error, result.Summary, "browser agent reported failure")))

	default:
		return failed(fmt.Errorf("browser agent returned unknown status %q", result.Status))
	}
}

// Instructions builds the agent task text from the form-fill prompt and the ATS adapter.
func (d *Driver) Instructions(task *types.ApplicationTask, artifacts types.Artifacts, adapter ats.Adapter) (string, error) {
	template, err := prompts.Get("browser.json", "form-fill")
	if err != nil {
		return "", fmt.Errorf("failed to load form-fill prompt: %w", err)
	}

	edits := "(none)"
	if len(artifacts.CVEdits) > 0 {
		data, err := json.MarshalIndent(artifacts.CVEdits, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode CV edits: %w", err)
		}
		edits = string(data)
	}

	effort := task.UserHint
	if task.Effort != nil {
		effort = task.Effort.Tier
	}

	return prompts.Format(template, map[string]string{
		"URL":              task.TargetURL,
		"Title":            task.Job.Title,
		"Company":          task.Job.Company,
		"Profile":          task.Profile.Summary,
		"CoverLetter":      firstNonEmpty(artifacts.CoverLetter, "(none)"),
		"CVEdits":          edits,
		"SiteInstructions": adapter.Instructions(effort),
		"CVPath":           d.cfg.CVPath,
		"FieldDelay":       strconv.FormatFloat(adapter.Stealth.InterActionDelay, 'f', 1, 64),
		"PageDelay":        strconv.FormatFloat(adapter.Stealth.InterActionDelay*adapter.Stealth.TypingDelayMultiplier, 'f', 1, 64),
	}), nil
}

func resumeHint(resolved *types.Interruption) string {
	note := ""
	if resolved.Resolution != nil {
		switch {
		case resolved.Resolution.Token != "":
			note = "Use the provided solution token for the challenge."
		case resolved.Resolution.Text != "":
			note = fmt.Sprintf("The challenge answer is: %s", resolved.Resolution.Text)
		case resolved.Resolution.HumanNote != "":
			note = fmt.Sprintf("The human operator replied: %s", resolved.Resolution.HumanNote)
		}
	}
	if resolved.Type == types.InterruptReviewCheckpoint {
		note += " The review page has been checked. Report the filled answers and stop without submitting."
	}
	return prompts.Format(prompts.MustGet("browser.json", "resume-hint"), map[string]string{
		"Interruption":   string(resolved.Type),
		"ResolutionNote": note,
	})
}

// interruption converts the agent's report into an Interruption, filling gaps from page HTML
// and, when no artifact is available, a fresh snapshot.
func (d *Driver) interruption(ctx context.Context, task *types.ApplicationTask, result AgentResult) (*types.Interruption, error) {
	reported := result.Interruption
	if reported == nil {
		c, ok := DetectChallenge(result.PageHTML)
		if !ok {
			return nil, errors.New("browser agent reported an interruption without details")
		}
		reported = &AgentInterruption{Type: c.Type, CaptchaKind: c.CaptchaKind, SiteKey: c.SiteKey}
	}

	intr := types.NewInterruption(reported.Type)
	intr.CaptchaKind = reported.CaptchaKind
	intr.SiteKey = reported.SiteKey
	intr.PageURL = firstNonEmpty(reported.PageURL, result.PageURL, task.TargetURL)
	intr.Message = firstNonEmpty(reported.Message, result.Summary)

	// a site key is enough for the solver; otherwise the human needs to see the page
	if reported.ScreenshotBase64 != "" || intr.SiteKey == "" {
		d.attachScreenshot(ctx, task, intr, result)
	}

	if intr.Type == types.InterruptCaptcha && intr.CaptchaKind == "" {
		intr.CaptchaKind = types.CaptchaImage
		if intr.SiteKey != "" {
			intr.CaptchaKind = types.CaptchaRecaptchaV2
		}
	}
	return intr, nil
}

// attachScreenshot sets the interruption's image from the agent report or an Inspector snapshot.
func (d *Driver) attachScreenshot(ctx context.Context, task *types.ApplicationTask, intr *types.Interruption, result AgentResult) {
	var png []byte
	if result.Interruption != nil && result.Interruption.ScreenshotBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(result.Interruption.ScreenshotBase64)
		if err == nil {
			png = data
		}
	}

	if png == nil && d.inspector != nil {
		snap, err := d.inspector.Capture(ctx, intr.PageURL)
		if err != nil {
			log.Printf("[BROWSER] warning: snapshot failed for %s: %v", intr.PageURL, err)
			return
		}
		png = snap.PNG
		if c, ok := DetectChallenge(snap.HTML); ok && intr.Type == c.Type {
			if intr.SiteKey == "" {
				intr.SiteKey = c.SiteKey
			}
			if intr.CaptchaKind == "" {
				intr.CaptchaKind = c.CaptchaKind
			}
		}
	}
	if len(png) == 0 {
		return
	}

	intr.ImageBase64 = base64.StdEncoding.EncodeToString(png)
	if d.cfg.ArtifactDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%s-%d.png", task.ID, intr.Type, time.Now().UnixNano())
	path := filepath.Join(d.cfg.ArtifactDir, name)
	if err := os.MkdirAll(d.cfg.ArtifactDir, 0o755); err != nil {
		log.Printf("[BROWSER] warning: failed to create artifact dir: %v", err)
		return
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		log.Printf("[BROWSER] warning: failed to save screenshot: %v", err)
		return
	}
	intr.Screenshot = path
}

func failed(err error) Outcome {
	return Outcome{Status: OutcomeFailed, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
