// Package intake turns application requests into queued tasks: it validates the
// request, fetches the posting when needed, looks up the company tier and the
// candidate profile, and computes a match score when the caller gave none.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/apply-orchestrator/internal/domainpolicy"
	"github.com/jonathan/apply-orchestrator/internal/matching"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Request is an application request from the API or the CLI.
type Request struct {
	TargetURL   string   `json:"target_url" validate:"required,url"`
	Title       string   `json:"title,omitempty" validate:"max=300"`
	Company     string   `json:"company,omitempty" validate:"max=200"`
	Description string   `json:"description,omitempty"`
	KeySkills   []string `json:"key_skills,omitempty" validate:"max=50,dive,required"`
	ProfileRef  string   `json:"profile_ref,omitempty"`
	UserHint    string   `json:"user_hint,omitempty" validate:"omitempty,oneof=low medium high"`
	MatchScore  *float64 `json:"match_score,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ValidationError describes the first invalid field of a Request.
type ValidationError struct {
	Field string
	Tag   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Tag)
}

// JobFetcher retrieves posting metadata.
type JobFetcher interface {
	Fetch(ctx context.Context, rawURL string) (types.JobData, error)
}

// Profiles resolves profile references.
type Profiles interface {
	Profile(ref string) (types.ProfileTruth, error)
}

// CompanyTiers classifies companies.
type CompanyTiers interface {
	CompanyTier(company string) types.CompanyTier
}

// SkillExtractor lists the key skills of a job description.
type SkillExtractor interface {
	ExtractSkills(ctx context.Context, description string) ([]string, error)
}

// Builder creates tasks from requests. Jobs, Tiers and Skills are optional.
type Builder struct {
	Jobs     JobFetcher
	Profiles Profiles
	Tiers    CompanyTiers
	Skills   SkillExtractor

	validate *validator.Validate
}

// NewBuilder creates a builder.
func NewBuilder(jobs JobFetcher, profiles Profiles, tiers CompanyTiers) *Builder {
	return &Builder{
		Jobs:     jobs,
		Profiles: profiles,
		Tiers:    tiers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks a request without building it.
func (b *Builder) Validate(req Request) error {
	if err := b.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &ValidationError{Field: fieldErrs[0].Field(), Tag: fieldErrs[0].Tag()}
		}
		return &ValidationError{Field: "request", Tag: "invalid"}
	}
	return nil
}

// Build validates req and returns a queued task with its match score set.
func (b *Builder) Build(ctx context.Context, req Request) (*types.ApplicationTask, error) {
	if err := b.Validate(req); err != nil {
		return nil, err
	}

	domain, err := domainpolicy.DomainFromURL(req.TargetURL)
	if err != nil {
		return nil, &ValidationError{Field: "TargetURL", Tag: "url"}
	}

	if b.Profiles == nil {
		return nil, fmt.Errorf("no candidate profiles configured")
	}
	profile, err := b.Profiles.Profile(req.ProfileRef)
	if err != nil {
		return nil, err
	}

	job := types.JobData{
		Title:       strings.TrimSpace(req.Title),
		Company:     strings.TrimSpace(req.Company),
		Description: strings.TrimSpace(req.Description),
		KeySkills:   req.KeySkills,
	}
	if job.Description == "" {
		if b.Jobs == nil {
			return nil, &ValidationError{Field: "Description", Tag: "required"}
		}
		fetched, err := b.Jobs.Fetch(ctx, req.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch job posting: %w", err)
		}
		job = mergeJob(job, fetched)
	}
	if len(job.KeySkills) == 0 && b.Skills != nil {
		skills, err := b.Skills.ExtractSkills(ctx, job.Description)
		if err != nil {
			log.Printf("[INTAKE] warning: %v", err)
		}
		job.KeySkills = skills
	}

	job.CompanyTier = types.CompanyNormal
	if b.Tiers != nil {
		job.CompanyTier = b.Tiers.CompanyTier(job.Company)
	}

	hint := types.EffortTier(req.UserHint)
	if hint == "" {
		hint = types.EffortMedium
	}

	task := types.NewApplicationTask(req.TargetURL, domain, job, profile, hint)
	task.ProfileRef = req.ProfileRef
	if task.ProfileRef == "" {
		task.ProfileRef = DefaultProfile
	}
	if req.MatchScore != nil {
		task.MatchScore = *req.MatchScore
	} else {
		task.MatchScore = matching.Score(job, profile).Score
	}
	return task, nil
}

// mergeJob keeps caller-supplied fields and fills the rest from the fetched posting.
func mergeJob(given, fetched types.JobData) types.JobData {
	if given.Title == "" {
		given.Title = fetched.Title
	}
	if given.Company == "" {
		given.Company = fetched.Company
	}
	given.Description = fetched.Description
	if len(given.KeySkills) == 0 {
		given.KeySkills = fetched.KeySkills
	}
	return given
}
