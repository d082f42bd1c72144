// Package browser drives the remote browser agent that fills application forms.
package browser

import (
	"context"

	"github.com/jonathan/apply-orchestrator/internal/ats"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// AgentStatus is the state the browser agent reports when it stops.
type AgentStatus string

// Agent statuses
const (
	AgentFilled      AgentStatus = "filled"
	AgentInterrupted AgentStatus = "interrupted"
	AgentReview      AgentStatus = "review"
	AgentFailed      AgentStatus = "failed"
)

// AgentTask is one natural-language job for the browser agent.
type AgentTask struct {
	ApplicationID string            `json:"application_id"`
	URL           string            `json:"url"`
	Instructions  string            `json:"instructions"`
	Platform      ats.Platform      `json:"platform"`
	Stealth       ats.Stealth       `json:"stealth"`
	Headless      bool              `json:"headless"`
	CDPURL        string            `json:"cdp_url,omitempty"`
	Resolution    *types.Resolution `json:"resolution,omitempty"`
}

// AgentInterruption is a blocking condition as reported by the agent.
type AgentInterruption struct {
	Type             types.InterruptionType `json:"type"`
	CaptchaKind      types.CaptchaKind      `json:"captcha_kind,omitempty"`
	SiteKey          string                 `json:"site_key,omitempty"`
	PageURL          string                 `json:"page_url,omitempty"`
	ScreenshotBase64 string                 `json:"screenshot_base64,omitempty"`
	Message          string                 `json:"message,omitempty"`
}

// AgentResult is what the agent returns when it stops.
type AgentResult struct {
	Status       AgentStatus          `json:"status"`
	Summary      string               `json:"summary"`
	Answers      []types.FilledAnswer `json:"answers,omitempty"`
	Interruption *AgentInterruption   `json:"interruption,omitempty"`
	PageURL      string               `json:"page_url,omitempty"`
	PageHTML     string               `json:"page_html,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Agent performs a browser task and reports where it stopped.
// It must accept being re-invoked with a Resolution after an interruption.
type Agent interface {
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}
