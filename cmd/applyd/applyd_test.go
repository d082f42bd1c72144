package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/config"
	"github.com/jonathan/apply-orchestrator/internal/discovery"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/store/sqlite"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// parse resets a command's flags to their defaults and parses args.
func parse(t *testing.T, cmd *cobra.Command, args ...string) {
	t.Helper()
	reset := func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	reset()
	t.Cleanup(reset)
	require.NoError(t, cmd.ParseFlags(args))
}

func TestBuildRequest(t *testing.T) {
	desc := filepath.Join(t.TempDir(), "job.txt")
	require.NoError(t, os.WriteFile(desc, []byte("We need Go and PostgreSQL."), 0o600))

	parse(t, runCommand, "--title", "Backend Engineer", "-d", desc, "-s", "Go", "-s", "PostgreSQL", "--hint", "high", "--score", "0")

	req, err := buildRequest(runCommand, "https://jobs.lever.co/acme/1")
	require.NoError(t, err)
	assert.Equal(t, "https://jobs.lever.co/acme/1", req.TargetURL)
	assert.Equal(t, "Backend Engineer", req.Title)
	assert.Equal(t, "We need Go and PostgreSQL.", req.Description)
	assert.Equal(t, []string{"Go", "PostgreSQL"}, req.KeySkills)
	assert.Equal(t, "high", req.UserHint)
	require.NotNil(t, req.MatchScore, "an explicit zero score is kept")
	assert.Zero(t, *req.MatchScore)
}

func TestBuildRequest_ScoreUnsetIsComputed(t *testing.T) {
	parse(t, runCommand)

	req, err := buildRequest(runCommand, "https://example.com/jobs/1")
	require.NoError(t, err)
	assert.Nil(t, req.MatchScore)
	assert.Empty(t, req.Description)
}

func TestBuildRequest_MissingDescriptionFile(t *testing.T) {
	parse(t, runCommand, "-d", filepath.Join(t.TempDir(), "missing.txt"))

	_, err := buildRequest(runCommand, "https://example.com/jobs/1")
	assert.ErrorContains(t, err, "failed to read description file")
}

func TestPolicyFromFlags(t *testing.T) {
	parse(t, policySetCmd, "--max-per-day", "5", "--notes", "slow ATS")

	p, err := policyFromFlags(policySetCmd, " Jobs.Lever.co ")
	require.NoError(t, err)
	assert.Equal(t, "jobs.lever.co", p.Domain)
	require.NotNil(t, p.MaxApplicationsPerDay)
	assert.Equal(t, 5, *p.MaxApplicationsPerDay)
	assert.Nil(t, p.MinSecondsBetween, "unset flags are no limit")
	assert.Equal(t, 1, p.MaxConcurrent)
	assert.Equal(t, "slow ATS", p.Notes)
}

func TestPolicyFromFlags_Invalid(t *testing.T) {
	parse(t, policySetCmd, "--max-concurrent", "0")
	_, err := policyFromFlags(policySetCmd, "example.com")
	assert.ErrorContains(t, err, "--max-concurrent")

	parse(t, policySetCmd, "--min-gap", "-1")
	_, err = policyFromFlags(policySetCmd, "example.com")
	assert.ErrorContains(t, err, "--min-gap")

	parse(t, policySetCmd)
	_, err = policyFromFlags(policySetCmd, "  ")
	assert.ErrorContains(t, err, "domain is required")
}

func TestParseDay(t *testing.T) {
	now := time.Date(2026, 3, 2, 17, 45, 0, 0, time.UTC)

	day, err := parseDay("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), day)

	day, err = parseDay("2026-02-28", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), day)

	_, err = parseDay("28/02/2026", now)
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, st)

	st, err = openStore(ctx, config.Config{SQLitePath: filepath.Join(t.TempDir(), "apply.db")})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	assert.IsType(t, &sqlite.Store{}, st)

	_, err = st.ListPolicies(ctx)
	assert.NoError(t, err, "the schema is migrated on open")
}

func TestNewOrchestrator_RequiresAPIKey(t *testing.T) {
	_, err := newOrchestrator(context.Background(), config.Config{}, store.NewMemory(), nil)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

type recordingQueue struct {
	submitted []*types.ApplicationTask
	full      bool
}

func (q *recordingQueue) Submit(task *types.ApplicationTask) error {
	if q.full {
		return pipeline.ErrQueueFull
	}
	q.submitted = append(q.submitted, task)
	return nil
}

func (q *recordingQueue) Pending() int { return len(q.submitted) }

func TestResumeQueued(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	save := func(ref string, status types.Status, age time.Duration) *types.ApplicationTask {
		task := types.NewApplicationTask("https://example.com/jobs/"+ref, "example.com", types.JobData{}, types.ProfileTruth{}, types.EffortMedium)
		task.ProfileRef = ref
		task.Status = status
		task.CreatedAt = base.Add(-age)
		require.NoError(t, st.SaveApplication(ctx, task))
		return task
	}
	older := save("default", types.StatusQueued, 2*time.Hour)
	newer := save("default", types.StatusQueued, time.Hour)
	save("unknown", types.StatusQueued, 30*time.Minute)
	save("default", types.StatusFailed, 3*time.Hour)

	profiles := intake.ProfileSet{"default": {SkillsTrue: []string{"Go"}}}
	queue := &recordingQueue{}
	require.NoError(t, resumeQueued(ctx, st, profiles, queue))

	require.Len(t, queue.submitted, 2, "unknown profiles and finished tasks are left alone")
	assert.Equal(t, older.ID, queue.submitted[0].ID)
	assert.Equal(t, newer.ID, queue.submitted[1].ID)
	assert.Equal(t, []string{"Go"}, queue.submitted[0].Profile.SkillsTrue)

	assert.Error(t, resumeQueued(ctx, st, profiles, &recordingQueue{full: true}))
}

type stubBuilder struct {
	failFor string
}

func (b stubBuilder) Build(_ context.Context, req intake.Request) (*types.ApplicationTask, error) {
	if req.TargetURL == b.failFor {
		return nil, errors.New("blocked domain")
	}
	job := types.JobData{Title: req.Title, Company: req.Company}
	task := types.NewApplicationTask(req.TargetURL, "boards.greenhouse.io", job, types.ProfileTruth{}, types.EffortMedium)
	task.ProfileRef = req.ProfileRef
	return task, nil
}

func TestQueueDiscovered(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	postings := []discovery.Posting{
		{Title: "Backend Engineer", Company: "Acme", URL: "https://boards.greenhouse.io/acme/jobs/1"},
		{Title: "SRE", Company: "Hooli", URL: "https://boards.greenhouse.io/hooli/jobs/2"},
	}
	reqs := discovery.Requests(postings, intake.Request{ProfileRef: "backend"})

	queued := queueDiscovered(ctx, stubBuilder{failFor: postings[1].URL}, st, reqs)
	assert.Equal(t, 1, queued, "a posting that fails to build is skipped")

	stored, err := st.ListApplications(ctx, store.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.StatusQueued, stored[0].Status)
	assert.Equal(t, "Acme", stored[0].Job.Company)
	assert.Equal(t, "backend", stored[0].ProfileRef)
}

func TestSubmissionFromFlags(t *testing.T) {
	sub, err := submissionFromFlags(" Email ", " conf #42 ")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Submission{Confirmation: pipeline.ConfirmedEmail, Note: "conf #42"}, sub)

	sub, err = submissionFromFlags("", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ConfirmedManual, sub.Confirmation)

	_, err = submissionFromFlags("fax", "")
	assert.ErrorContains(t, err, "--confirmation")
}

func TestPromptsArgs(t *testing.T) {
	assert.NoError(t, promptsCmd.Args(promptsCmd, nil))
	assert.NoError(t, promptsCmd.Args(promptsCmd, []string{"browser.json", "job-search"}))
	assert.Error(t, promptsCmd.Args(promptsCmd, []string{"browser.json"}))
	assert.Error(t, promptsCmd.Args(promptsCmd, []string{"a", "b", "c"}))
}
