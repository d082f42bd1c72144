// Package storetest holds the behaviour every store.Store implementation must share.
// Test data uses random IDs and domains so the suite can run against a shared database.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Factory returns a ready store. The suite closes nothing; the factory owns cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ApplicationRoundTrip", testApplicationRoundTrip},
		{"SaveKeepsUsage", testSaveKeepsUsage},
		{"GetMissing", testGetMissing},
		{"ListApplicationsFilter", testListApplicationsFilter},
		{"StatusHistory", testStatusHistory},
		{"Events", testEvents},
		{"QAIssues", testQAIssues},
		{"Interruptions", testInterruptions},
		{"LedgerIncrement", testLedgerIncrement},
		{"LedgerConcurrentIncrements", testLedgerConcurrentIncrements},
		{"LedgerBlock", testLedgerBlock},
		{"Policies", testPolicies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func intPtr(i int) *int { return &i }

func randomDomain() string {
	return fmt.Sprintf("jobs-%s.example.com", uuid.NewString()[:8])
}

func newTask(domain string) *types.ApplicationTask {
	task := types.NewApplicationTask("https://"+domain+"/apply/1", domain,
		types.JobData{Title: "Backend Engineer", Company: "Acme", Description: "Go and Postgres", CompanyTier: types.CompanyNormal},
		types.ProfileTruth{}, types.EffortMedium)
	task.CreatedAt = time.Now().UTC().Truncate(time.Second)
	return task
}

func saved(t *testing.T, s store.Store, domain string) *types.ApplicationTask {
	t.Helper()
	task := newTask(domain)
	require.NoError(t, s.SaveApplication(context.Background(), task))
	return task
}

func testApplicationRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(randomDomain())
	started := task.CreatedAt.Add(time.Second)
	task.Status = types.StatusFailed
	task.StartedAt = &started
	task.Effort = &types.EffortDecision{Tier: types.EffortHigh, Reason: "strong match"}
	task.MatchScore = 0.82
	task.Artifacts = types.Artifacts{CoverLetter: "Dear Acme", CVEdits: []types.CVEdit{{Section: "summary", New: "Go engineer"}}}
	task.Answers = []types.FilledAnswer{{Label: "Years of Go", Value: "5"}}
	task.FailureCode = "driver_failed"
	task.FailureDetail = "agent crashed"
	task.ManualFollowupNeeded = true
	require.NoError(t, s.SaveApplication(ctx, task))

	got, err := s.GetApplication(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.TargetURL, got.TargetURL)
	assert.Equal(t, task.Domain, got.Domain)
	assert.Equal(t, task.Job, got.Job)
	assert.Equal(t, types.EffortMedium, got.UserHint)
	assert.Equal(t, types.StatusFailed, got.Status)
	require.NotNil(t, got.Effort)
	assert.Equal(t, *task.Effort, *got.Effort)
	assert.InDelta(t, 0.82, got.MatchScore, 1e-9)
	assert.Equal(t, task.Artifacts, got.Artifacts)
	assert.Equal(t, task.Answers, got.Answers)
	assert.Equal(t, "driver_failed", got.FailureCode)
	assert.Equal(t, "agent crashed", got.FailureDetail)
	assert.True(t, got.ManualFollowupNeeded)
	assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, time.Millisecond)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Millisecond)
	assert.Nil(t, got.CompletedAt)
}

func testSaveKeepsUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := saved(t, s, randomDomain())

	require.NoError(t, s.AddUsage(ctx, task.ID, types.Usage{TokensIn: 100, TokensOut: 50, CostUSD: 0.01}))
	require.NoError(t, s.AddUsage(ctx, task.ID, types.Usage{TokensIn: 10, TokensOut: 5, CostUSD: 0.002}))

	task.Status = types.StatusPlanning
	task.Usage = types.Usage{TokensIn: 999999}
	require.NoError(t, s.SaveApplication(ctx, task))

	got, err := s.GetApplication(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPlanning, got.Status)
	assert.Equal(t, 110, got.Usage.TokensIn)
	assert.Equal(t, 55, got.Usage.TokensOut)
	assert.InDelta(t, 0.012, got.Usage.CostUSD, 1e-9)

	err = s.AddUsage(ctx, uuid.New(), types.Usage{TokensIn: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetApplication(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListApplicationsFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	domain := randomDomain()

	older := newTask(domain)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.SaveApplication(ctx, older))
	newer := saved(t, s, domain)
	failed := newTask(domain)
	failed.Status = types.StatusFailed
	require.NoError(t, s.SaveApplication(ctx, failed))
	saved(t, s, randomDomain())

	all, err := s.ListApplications(ctx, store.ApplicationFilter{Domain: domain})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, older.ID, all[2].ID, "newest first")

	queued, err := s.ListApplications(ctx, store.ApplicationFilter{Domain: domain, Status: types.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, newer.ID, queued[0].ID)

	limited, err := s.ListApplications(ctx, store.ApplicationFilter{Domain: domain, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testStatusHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := saved(t, s, randomDomain())
	at := time.Now().UTC().Truncate(time.Second)

	changes := []types.StatusChange{
		{ApplicationID: task.ID, Old: types.StatusQueued, New: types.StatusPlanning, Reason: "admitted", Actor: "orchestrator", At: at},
		{ApplicationID: task.ID, Old: types.StatusPlanning, New: types.StatusSkipped, Reason: "low match", Actor: "orchestrator", At: at.Add(time.Second)},
	}
	for _, c := range changes {
		require.NoError(t, s.RecordStatusChange(ctx, c))
	}

	history, err := s.ListStatusHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.StatusPlanning, history[0].New)
	assert.Equal(t, types.StatusSkipped, history[1].New)
	assert.Equal(t, "low match", history[1].Reason)
	assert.Equal(t, "orchestrator", history[1].Actor)
	assert.WithinDuration(t, at.Add(time.Second), history[1].At, time.Millisecond)
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := saved(t, s, randomDomain())
	at := time.Now().UTC().Truncate(time.Second)

	for _, e := range []types.Event{
		{ApplicationID: task.ID, Sequence: 2, Type: "planning", Detail: "admitted", CreatedAt: at},
		{ApplicationID: task.ID, Sequence: 1, Type: "queued", CreatedAt: at},
		{ApplicationID: task.ID, Sequence: 3, Type: "generating", Payload: map[string]any{"tier": "high"}, CreatedAt: at},
	} {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	err := s.AppendEvent(ctx, types.Event{ApplicationID: task.ID, Sequence: 2, Type: "dup", CreatedAt: at})
	assert.Error(t, err, "sequence numbers are unique per application")

	events, err := s.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Sequence, events[1].Sequence, events[2].Sequence})
	assert.Equal(t, "admitted", events[1].Detail)
	assert.Equal(t, "high", events[2].Payload["tier"])
}

func testQAIssues(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := saved(t, s, randomDomain())

	require.NoError(t, s.SaveQAIssues(ctx, task.ID, nil))
	require.NoError(t, s.SaveQAIssues(ctx, task.ID, []types.QAIssue{
		{Category: types.IssueDisallowedSkill, Severity: "error", Field: "Skills", DetectedValue: "Java", ExpectedConstraint: "not in profile"},
		{Category: types.IssueExperienceInflation, Severity: "error", Field: "Experience", DetectedValue: "10 years", ExpectedConstraint: "max 5 years"},
	}))

	issues, err := s.ListQAIssues(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, types.IssueDisallowedSkill, issues[0].Category)
	assert.Equal(t, "10 years", issues[1].DetectedValue)
}

func testInterruptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := saved(t, s, randomDomain())

	intr := types.NewInterruption(types.InterruptCaptcha)
	intr.CreatedAt = time.Now().UTC().Truncate(time.Second)
	intr.CaptchaKind = types.CaptchaRecaptchaV2
	intr.SiteKey = "site-key"
	require.NoError(t, s.SaveInterruption(ctx, task.ID, intr))

	resolved := intr.CreatedAt.Add(30 * time.Second)
	intr.Status = types.InterruptionResolved
	intr.Attempts = 4
	intr.SolverType = "external_service"
	intr.Resolution = &types.Resolution{Token: "tok"}
	intr.ResolvedAt = &resolved
	require.NoError(t, s.SaveInterruption(ctx, task.ID, intr))
	require.NoError(t, s.SaveInterruption(ctx, task.ID, nil))

	recorded, err := s.ListInterruptions(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, types.InterruptionPending, recorded[0].Status)
	assert.Nil(t, recorded[0].Resolution)
	assert.Equal(t, types.InterruptionResolved, recorded[1].Status)
	assert.Equal(t, types.CaptchaRecaptchaV2, recorded[1].CaptchaKind)
	assert.Equal(t, 4, recorded[1].Attempts)
	require.NotNil(t, recorded[1].Resolution)
	assert.Equal(t, "tok", recorded[1].Resolution.Token)
	require.NotNil(t, recorded[1].ResolvedAt)
	assert.WithinDuration(t, resolved, *recorded[1].ResolvedAt, time.Millisecond)
}

func testLedgerIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	domain := randomDomain()
	day := types.Day(time.Now().UTC())
	at := time.Now().UTC().Truncate(time.Second)

	entry, err := s.GetLedgerEntry(ctx, domain, day)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, s.IncrementLedger(ctx, domain, day, true, at))
	require.NoError(t, s.IncrementLedger(ctx, domain, day, false, at.Add(time.Minute)))
	require.NoError(t, s.IncrementLedger(ctx, domain, day.AddDate(0, 0, -1), false, at))

	entry, err = s.GetLedgerEntry(ctx, domain, day)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Attempted)
	assert.Equal(t, 1, entry.Succeeded)
	assert.Equal(t, 1, entry.Failed)
	require.NotNil(t, entry.LastAttemptAt)
	assert.WithinDuration(t, at.Add(time.Minute), *entry.LastAttemptAt, time.Millisecond)

	entries, err := s.ListLedger(ctx, day)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Domain == domain {
			found = true
			assert.Equal(t, day.Format("2006-01-02"), e.Day.Format("2006-01-02"))
		}
	}
	assert.True(t, found)
}

func testLedgerConcurrentIncrements(t *testing.T, s store.Store) {
	ctx := context.Background()
	domain := randomDomain()
	day := types.Day(time.Now().UTC())

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.IncrementLedger(ctx, domain, day, i%2 == 0, time.Now().UTC())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entry, err := s.GetLedgerEntry(ctx, domain, day)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, n, entry.Attempted)
	assert.Equal(t, n, entry.Succeeded+entry.Failed)
}

func testLedgerBlock(t *testing.T, s store.Store) {
	ctx := context.Background()
	domain := randomDomain()
	day := types.Day(time.Now().UTC())
	until := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	require.NoError(t, s.IncrementLedger(ctx, domain, day, false, time.Now().UTC()))
	require.NoError(t, s.SetBlocked(ctx, domain, day, until, "3 failures"))

	entry, err := s.GetLedgerEntry(ctx, domain, day)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Blocked)
	require.NotNil(t, entry.BlockedUntil)
	assert.WithinDuration(t, until, *entry.BlockedUntil, time.Millisecond)
	assert.Equal(t, "3 failures", entry.Notes)
	assert.Equal(t, 1, entry.Attempted, "blocking keeps counters")

	require.NoError(t, s.ClearBlock(ctx, domain, day))
	entry, err = s.GetLedgerEntry(ctx, domain, day)
	require.NoError(t, err)
	assert.False(t, entry.Blocked)
	assert.Nil(t, entry.BlockedUntil)

	require.NoError(t, s.ClearBlock(ctx, randomDomain(), day), "clearing a missing entry is a no-op")
}

func testPolicies(t *testing.T, s store.Store) {
	ctx := context.Background()
	domain := randomDomain()

	p, err := s.GetPolicy(ctx, domain)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.UpsertPolicy(ctx, types.DomainPolicy{
		Domain: domain, MaxApplicationsPerDay: intPtr(10), MaxConcurrent: 1, Notes: "seeded",
	}))
	require.NoError(t, s.UpsertPolicy(ctx, types.DomainPolicy{
		Domain: domain, MaxApplicationsPerDay: intPtr(5), MinSecondsBetween: intPtr(60), MaxConcurrent: 2, Avoid: true,
	}))
	assert.Error(t, s.UpsertPolicy(ctx, types.DomainPolicy{}))

	p, err = s.GetPolicy(ctx, domain)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.MaxApplicationsPerDay)
	assert.Equal(t, 5, *p.MaxApplicationsPerDay)
	require.NotNil(t, p.MinSecondsBetween)
	assert.Equal(t, 60, *p.MinSecondsBetween)
	assert.Equal(t, 2, p.MaxConcurrent)
	assert.True(t, p.Avoid)
	assert.Empty(t, p.Notes)

	policies, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	found := false
	for i, q := range policies {
		if i > 0 {
			assert.LessOrEqual(t, policies[i-1].Domain, q.Domain)
		}
		if q.Domain == domain {
			found = true
		}
	}
	assert.True(t, found)
}
