// Package discovery finds job postings by having the browser agent search a job board.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/apply-orchestrator/internal/ats"
	"github.com/jonathan/apply-orchestrator/internal/browser"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/llm"
	"github.com/jonathan/apply-orchestrator/internal/prompts"
)

const (
	// DefaultSite is the board searched when a query names none.
	DefaultSite = "boards.greenhouse.io"
	// DefaultLimit is the number of postings asked for when a query names none.
	DefaultLimit = 5
	// MaxLimit caps a single search.
	MaxLimit = 25

	searchURL = "https://www.google.com"
)

// Query is one job search.
type Query struct {
	Keywords string `validate:"required,max=200"`
	Location string `validate:"max=100"`
	Site     string `validate:"omitempty,hostname"`
	Limit    int    `validate:"gte=0,lte=25"`
}

// Posting is a job found by a search.
type Posting struct {
	Title   string `json:"title"`
	Company string `json:"company"`
	URL     string `json:"url"`
}

// Error reports a search the agent could not complete.
type Error struct {
	Query   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("job search %q failed: %s", e.Query, e.Message)
}

// Config holds the browser settings passed to the agent.
type Config struct {
	Headless bool
	CDPURL   string
}

// Finder runs searches through a browser agent.
type Finder struct {
	agent    browser.Agent
	cfg      Config
	validate *validator.Validate
}

// NewFinder creates a finder.
func NewFinder(agent browser.Agent, cfg Config) *Finder {
	return &Finder{
		agent:    agent,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Discover asks the agent to search Site for Keywords in Location and returns up
// to Limit distinct postings.
func (f *Finder) Discover(ctx context.Context, q Query) ([]Posting, error) {
	q.Keywords = strings.TrimSpace(q.Keywords)
	q.Location = strings.TrimSpace(q.Location)
	if err := f.validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, &intake.ValidationError{Field: fieldErrs[0].Field(), Tag: fieldErrs[0].Tag()}
		}
		return nil, err
	}
	if q.Site == "" {
		q.Site = DefaultSite
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}

	template, err := prompts.Get("browser.json", "job-search")
	if err != nil {
		return nil, err
	}
	adapter := ats.Select(searchURL)
	task := browser.AgentTask{
		URL: searchURL,
		Instructions: prompts.Format(template, map[string]string{
			"Site":     q.Site,
			"Query":    q.Keywords,
			"Location": q.Location,
			"Limit":    strconv.Itoa(q.Limit),
		}),
		Platform: adapter.Platform,
		Stealth:  adapter.Stealth,
		Headless: f.cfg.Headless,
		CDPURL:   f.cfg.CDPURL,
	}

	log.Printf("[DISCOVERY] Searching %s for %q in %q (limit %d)", q.Site, q.Keywords, q.Location, q.Limit)
	result, err := f.agent.Execute(ctx, task)
	if err != nil {
		return nil, &Error{Query: q.Keywords, Message: err.Error()}
	}
	switch result.Status {
	case browser.AgentFailed:
		return nil, &Error{Query: q.Keywords, Message: firstNonEmpty(result.Error, result.Summary, "browser agent reported failure")}
	case browser.AgentInterrupted:
		kind := "interruption"
		if result.Interruption != nil {
			kind = string(result.Interruption.Type)
		}
		return nil, &Error{Query: q.Keywords, Message: "search stopped by a " + kind}
	}

	postings, err := ParsePostings(result.Summary, q.Limit)
	if err != nil {
		return nil, &Error{Query: q.Keywords, Message: err.Error()}
	}
	log.Printf("[DISCOVERY] Found %d posting(s)", len(postings))
	return postings, nil
}

// ParsePostings decodes the agent's JSON list, drops entries without an absolute
// http(s) URL or seen before, and keeps at most limit.
func ParsePostings(text string, limit int) ([]Posting, error) {
	cleaned := llm.CleanJSONBlock(text)

	var raw []Posting
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		var wrapped struct {
			Jobs []Posting `json:"jobs"`
		}
		if json.Unmarshal([]byte(cleaned), &wrapped) != nil || wrapped.Jobs == nil {
			return nil, fmt.Errorf("failed to parse postings: %w", err)
		}
		raw = wrapped.Jobs
	}

	seen := make(map[string]bool)
	postings := make([]Posting, 0, len(raw))
	for _, p := range raw {
		p.URL = strings.TrimSpace(p.URL)
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		p.Title = strings.TrimSpace(p.Title)
		p.Company = strings.TrimSpace(p.Company)
		postings = append(postings, p)
		if limit > 0 && len(postings) == limit {
			break
		}
	}
	return postings, nil
}

// Requests turns postings into intake requests that share base's profile and hint.
func Requests(postings []Posting, base intake.Request) []intake.Request {
	reqs := make([]intake.Request, 0, len(postings))
	for _, p := range postings {
		req := base
		req.TargetURL = p.URL
		req.Title = p.Title
		req.Company = p.Company
		reqs = append(reqs, req)
	}
	return reqs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
