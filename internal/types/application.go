// Package types provides type definitions for structured data used throughout the apply-orchestrator system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ApplicationTask.
type Status string

// Status values. ReviewReady stands in for "submitted" because the pipeline never
// submits a form on its own; Submitted is only set by an explicit submission action.
const (
	StatusQueued        Status = "queued"
	StatusPlanning      Status = "planning"
	StatusGenerating    Status = "generating"
	StatusFilling       Status = "filling"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusQAReview      Status = "qa_review"
	StatusReviewReady   Status = "review_ready"
	StatusSubmitted     Status = "submitted"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReviewReady, StatusSubmitted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// EffortTier is the investment level for an application.
type EffortTier string

// Effort tiers
const (
	EffortLow    EffortTier = "low"
	EffortMedium EffortTier = "medium"
	EffortHigh   EffortTier = "high"
)

// CompanyTier classifies a company for admission and effort decisions.
type CompanyTier string

// Company tiers
const (
	CompanyTop    CompanyTier = "top"
	CompanyNormal CompanyTier = "normal"
	CompanyAvoid  CompanyTier = "avoid"
)

// JobData is the posting metadata the pipeline works from.
type JobData struct {
	Title       string      `json:"title"`
	Company     string      `json:"company"`
	Description string      `json:"description"`
	KeySkills   []string    `json:"key_skills,omitempty"`
	CompanyTier CompanyTier `json:"company_tier"`
}

// ProfileTruth holds the ground-truth facts about the candidate.
// Generated content is checked against it by the quality gate.
type ProfileTruth struct {
	Summary            string   `json:"summary" yaml:"summary"`
	SkillsTrue         []string `json:"skills_true" yaml:"skills_true"`
	SkillsFalse        []string `json:"skills_false" yaml:"skills_false"`
	MaxYearsExperience int      `json:"max_years_experience" yaml:"max_years_experience"`
}

// EffortDecision is the planner verdict for one task. It is never modified after creation.
type EffortDecision struct {
	Tier   EffortTier `json:"tier"`
	Reason string     `json:"reason"`
	Skip   bool       `json:"skip"`
}

// CVEdit is one suggested change to the candidate's CV.
type CVEdit struct {
	Section  string `json:"section"`
	Original string `json:"original"`
	New      string `json:"new"`
}

// Artifacts holds generated application content.
type Artifacts struct {
	CoverLetter string   `json:"cover_letter,omitempty"`
	CVEdits     []CVEdit `json:"cv_edits,omitempty"`
	CVEditsRaw  string   `json:"cv_edits_raw,omitempty"`
}

// Usage accumulates language model consumption.
type Usage struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		TokensIn:  u.TokensIn + other.TokensIn,
		TokensOut: u.TokensOut + other.TokensOut,
		CostUSD:   u.CostUSD + other.CostUSD,
	}
}

// FilledAnswer is a single form field the browser agent filled in.
type FilledAnswer struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ApplicationTask is one job application moving through the pipeline.
type ApplicationTask struct {
	ID         uuid.UUID    `json:"id"`
	TargetURL  string       `json:"target_url"`
	Domain     string       `json:"domain"`
	Job        JobData      `json:"job"`
	ProfileRef string       `json:"profile_ref"`
	Profile    ProfileTruth `json:"-"`
	UserHint   EffortTier   `json:"user_hint"`

	Status     Status          `json:"status"`
	Effort     *EffortDecision `json:"effort,omitempty"`
	MatchScore float64         `json:"match_score"`
	Artifacts  Artifacts       `json:"artifacts"`
	Answers    []FilledAnswer  `json:"answers,omitempty"`
	Usage      Usage           `json:"usage"`

	Reason               string `json:"reason,omitempty"`
	FailureCode          string `json:"failure_code,omitempty"`
	FailureDetail        string `json:"failure_detail,omitempty"`
	ManualFollowupNeeded bool   `json:"manual_followup_needed"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewApplicationTask creates a queued task with a fresh ID.
func NewApplicationTask(targetURL, domain string, job JobData, profile ProfileTruth, hint EffortTier) *ApplicationTask {
	return &ApplicationTask{
		ID:        uuid.New(),
		TargetURL: targetURL,
		Domain:    domain,
		Job:       job,
		Profile:   profile,
		UserHint:  hint,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}

// StatusChange is one row of an application's status history.
type StatusChange struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Old           Status    `json:"old_status"`
	New           Status    `json:"new_status"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
	At            time.Time `json:"at"`
}

// Event is an append-only provenance record for an application.
type Event struct {
	ApplicationID uuid.UUID      `json:"application_id"`
	Sequence      int            `json:"sequence"`
	Type          string         `json:"type"`
	Detail        string         `json:"detail"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
