package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/browser"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

type fakeAgent struct {
	result browser.AgentResult
	err    error
	tasks  []browser.AgentTask
}

func (f *fakeAgent) Execute(_ context.Context, task browser.AgentTask) (browser.AgentResult, error) {
	f.tasks = append(f.tasks, task)
	return f.result, f.err
}

const searchResult = "```json\n" + `[
  {"title": "Backend Engineer", "company": "Acme", "url": "https://boards.greenhouse.io/acme/jobs/1"},
  {"title": "Backend Engineer", "company": "Acme", "url": "https://boards.greenhouse.io/acme/jobs/1"},
  {"title": "No link", "company": "Globex", "url": ""},
  {"title": "Relative", "company": "Globex", "url": "/jobs/2"},
  {"title": " Platform Engineer ", "company": " Initech ", "url": "https://boards.greenhouse.io/initech/jobs/3"},
  {"title": "SRE", "company": "Hooli", "url": "https://boards.greenhouse.io/hooli/jobs/4"}
]` + "\n```"

func TestDiscover(t *testing.T) {
	agent := &fakeAgent{result: browser.AgentResult{Status: browser.AgentFilled, Summary: searchResult}}
	f := NewFinder(agent, Config{Headless: true, CDPURL: "http://chrome:9222"})

	postings, err := f.Discover(context.Background(), Query{Keywords: "golang backend", Location: "Berlin", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []Posting{
		{Title: "Backend Engineer", Company: "Acme", URL: "https://boards.greenhouse.io/acme/jobs/1"},
		{Title: "Platform Engineer", Company: "Initech", URL: "https://boards.greenhouse.io/initech/jobs/3"},
	}, postings)

	require.Len(t, agent.tasks, 1)
	task := agent.tasks[0]
	assert.Equal(t, "https://www.google.com", task.URL)
	assert.True(t, task.Headless)
	assert.Equal(t, "http://chrome:9222", task.CDPURL)
	assert.Contains(t, task.Instructions, `"site:boards.greenhouse.io golang backend Berlin jobs"`)
	assert.Contains(t, task.Instructions, "first 2 distinct")
	assert.Contains(t, task.Instructions, "do not open or fill any application form")
}

func TestDiscover_Defaults(t *testing.T) {
	agent := &fakeAgent{result: browser.AgentResult{Status: browser.AgentFilled, Summary: "[]"}}
	f := NewFinder(agent, Config{})

	postings, err := f.Discover(context.Background(), Query{Keywords: "data engineer", Site: "jobs.lever.co"})
	require.NoError(t, err)
	assert.Empty(t, postings)
	assert.Contains(t, agent.tasks[0].Instructions, "site:jobs.lever.co data engineer")
	assert.Contains(t, agent.tasks[0].Instructions, "first 5 distinct")
}

func TestDiscover_InvalidQuery(t *testing.T) {
	agent := &fakeAgent{}
	f := NewFinder(agent, Config{})

	tests := []struct {
		name  string
		query Query
		field string
	}{
		{"no keywords", Query{Keywords: "   "}, "Keywords"},
		{"limit too high", Query{Keywords: "go", Limit: MaxLimit + 1}, "Limit"},
		{"bad site", Query{Keywords: "go", Site: "not a host!"}, "Site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Discover(context.Background(), tt.query)
			var ve *intake.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, agent.tasks)
}

func TestDiscover_AgentProblems(t *testing.T) {
	tests := []struct {
		name  string
		agent *fakeAgent
		want  string
	}{
		{"transport error", &fakeAgent{err: errors.New("connection refused")}, "connection refused"},
		{"agent failure", &fakeAgent{result: browser.AgentResult{Status: browser.AgentFailed, Error: "browser crashed"}}, "browser crashed"},
		{"captcha", &fakeAgent{result: browser.AgentResult{
			Status:       browser.AgentInterrupted,
			Interruption: &browser.AgentInterruption{Type: types.InterruptCaptcha},
		}}, "search stopped by a captcha"},
		{"not json", &fakeAgent{result: browser.AgentResult{Status: browser.AgentFilled, Summary: "I found three jobs"}}, "failed to parse postings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFinder(tt.agent, Config{}).Discover(context.Background(), Query{Keywords: "go"})
			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "go", de.Query)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsePostings_WrappedObject(t *testing.T) {
	postings, err := ParsePostings(`{"jobs": [{"title": "SRE", "company": "Hooli", "url": "https://jobs.lever.co/hooli/1"}]}`, 0)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "Hooli", postings[0].Company)
}

func TestRequests(t *testing.T) {
	base := intake.Request{ProfileRef: "backend", UserHint: "high"}
	reqs := Requests([]Posting{
		{Title: "SRE", Company: "Hooli", URL: "https://jobs.lever.co/hooli/1"},
	}, base)

	require.Len(t, reqs, 1)
	assert.Equal(t, intake.Request{
		TargetURL:  "https://jobs.lever.co/hooli/1",
		Title:      "SRE",
		Company:    "Hooli",
		ProfileRef: "backend",
		UserHint:   "high",
	}, reqs[0])
}
