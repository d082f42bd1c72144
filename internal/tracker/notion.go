// Package tracker mirrors finished applications into a Notion job tracker database.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gnt "github.com/dstotijn/go-notion"
	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Property names of the tracker database.
const (
	PropPosition   = "Position"
	PropCompany    = "Company"
	PropJobPosting = "Job Posting"
	PropStage      = "Stage"
	PropOutcome    = "Outcome"
	PropEffort     = "Effort"
	PropMatchScore = "Match Score"
	PropNotes      = "Notes"
	PropCompleted  = "Completed"
)

// maxRichText is the Notion limit for a single rich text object.
const maxRichText = 2000

// Notion writes one page per application and updates it on later runs.
type Notion struct {
	api        *gnt.Client
	databaseID string

	mu    sync.Mutex
	pages map[uuid.UUID]string
}

// New creates a tracker for the given database.
func New(token, databaseID string, opts ...gnt.ClientOption) *Notion {
	return &Notion{
		api:        gnt.NewClient(token, opts...),
		databaseID: databaseID,
		pages:      make(map[uuid.UUID]string),
	}
}

// Ping runs a one-row query to check the token and database ID.
func (n *Notion) Ping(ctx context.Context) error {
	if _, err := n.api.QueryDatabase(ctx, n.databaseID, &gnt.DatabaseQuery{PageSize: 1}); err != nil {
		return fmt.Errorf("failed to reach notion database: %w", err)
	}
	return nil
}

// Track creates the page for a task, or updates it when this tracker already wrote one.
func (n *Notion) Track(ctx context.Context, task types.ApplicationTask) error {
	props := PageProperties(task)

	n.mu.Lock()
	pageID, ok := n.pages[task.ID]
	n.mu.Unlock()

	if ok {
		if _, err := n.api.UpdatePage(ctx, pageID, gnt.UpdatePageParams{DatabasePageProperties: props}); err != nil {
			return fmt.Errorf("failed to update notion page: %w", err)
		}
		return nil
	}

	page, err := n.api.CreatePage(ctx, gnt.CreatePageParams{
		ParentType:             gnt.ParentTypeDatabase,
		ParentID:               n.databaseID,
		DatabasePageProperties: &props,
	})
	if err != nil {
		return fmt.Errorf("failed to create notion page: %w", err)
	}

	n.mu.Lock()
	n.pages[task.ID] = page.ID
	n.mu.Unlock()
	return nil
}

// PageProperties maps a task onto the tracker columns. Empty values are left out.
func PageProperties(task types.ApplicationTask) gnt.DatabasePageProperties {
	props := gnt.DatabasePageProperties{}

	title := task.Job.Title
	if title == "" {
		title = task.TargetURL
	}
	props[PropPosition] = gnt.DatabasePageProperty{Title: richText(title)}

	if task.Job.Company != "" {
		props[PropCompany] = gnt.DatabasePageProperty{RichText: richText(task.Job.Company)}
	}
	if task.TargetURL != "" {
		url := task.TargetURL
		props[PropJobPosting] = gnt.DatabasePageProperty{URL: &url}
	}
	if task.Status != "" {
		props[PropStage] = gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: string(task.Status)}}
	}
	if outcome := Outcome(task); outcome != "" {
		props[PropOutcome] = gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: outcome}}
	}
	if task.Effort != nil {
		props[PropEffort] = gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: string(task.Effort.Tier)}}
	}

	score := task.MatchScore
	props[PropMatchScore] = gnt.DatabasePageProperty{Number: &score}

	if notes := Notes(task); notes != "" {
		props[PropNotes] = gnt.DatabasePageProperty{RichText: richText(notes)}
	}
	if task.CompletedAt != nil {
		props[PropCompleted] = gnt.DatabasePageProperty{
			Date: &gnt.Date{Start: gnt.NewDateTime(*task.CompletedAt, true)},
		}
	}
	return props
}

// Outcome is the human-facing verdict for a terminal status.
func Outcome(task types.ApplicationTask) string {
	switch task.Status {
	case types.StatusReviewReady:
		return "Ready for review"
	case types.StatusSubmitted:
		return "Submitted"
	case types.StatusSkipped:
		return "Skipped"
	case types.StatusFailed:
		if task.ManualFollowupNeeded {
			return "Needs follow-up"
		}
		return "Failed"
	}
	return ""
}

// Notes joins the reason and failure code.
func Notes(task types.ApplicationTask) string {
	var parts []string
	if task.Reason != "" {
		parts = append(parts, task.Reason)
	}
	if task.FailureCode != "" {
		parts = append(parts, "code: "+task.FailureCode)
	}
	return strings.Join(parts, "\n")
}

func richText(s string) []gnt.RichText {
	if s == "" {
		return nil
	}
	if r := []rune(s); len(r) > maxRichText {
		s = string(r[:maxRichText])
	}
	return []gnt.RichText{{Text: &gnt.Text{Content: s}}}
}
