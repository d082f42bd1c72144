package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/config"
	"github.com/jonathan/apply-orchestrator/internal/domainpolicy"
	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/server/ratelimit"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*types.ApplicationTask
	err   error
}

func (q *fakeQueue) Submit(task *types.ApplicationTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type testServer struct {
	*Server
	store *store.Memory
	queue *fakeQueue
	hub   *Hub
}

func newTestServer(t *testing.T, jwt *JWTService, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	mem := store.NewMemory()
	queue := &fakeQueue{}
	hub := NewHub()
	if limiter == nil {
		limiter = ratelimit.NewLimiter(&ratelimit.Config{Enabled: false})
	}
	profiles := intake.ProfileSet{intake.DefaultProfile: {SkillsTrue: []string{"Go", "PostgreSQL"}}}

	s := New(Config{Port: 0}, Deps{
		Store:   mem,
		Intake:  intake.NewBuilder(nil, profiles, nil),
		Queue:   queue,
		Hub:     hub,
		Guard:   domainpolicy.NewGuard(mem, domainpolicy.Options{}),
		JWT:     jwt,
		Limiter: limiter,
	})
	t.Cleanup(limiter.Stop)
	return &testServer{Server: s, store: mem, queue: queue, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func validRequest() intake.Request {
	return intake.Request{
		TargetURL:   "https://boards.greenhouse.io/acme/jobs/1",
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Go and PostgreSQL",
	}
}

func seedTask(t *testing.T, ts *testServer, status types.Status) *types.ApplicationTask {
	t.Helper()
	task := types.NewApplicationTask("https://jobs.lever.co/acme/1", "jobs.lever.co", types.JobData{Title: "SRE"}, types.ProfileTruth{}, types.EffortMedium)
	task.Status = status
	require.NoError(t, ts.store.SaveApplication(context.Background(), task))
	return task
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["pending"])
}

func TestCreateApplication(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := ts.do(t, http.MethodPost, "/applications", validRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[CreateApplicationResponse](t, rec)
	assert.Equal(t, types.StatusQueued, resp.Status)
	assert.Equal(t, "boards.greenhouse.io", resp.Domain)
	assert.Equal(t, 1.0, resp.MatchScore)
	assert.Equal(t, "/applications/"+resp.ID.String()+"/stream", resp.StreamURL)

	require.Len(t, ts.queue.tasks, 1)
	assert.Equal(t, resp.ID, ts.queue.tasks[0].ID)

	stored, err := ts.store.GetApplication(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, stored.Status)
}

func TestCreateApplication_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/applications", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := validRequest()
	req.UserHint = "extreme"
	rec = ts.do(t, http.MethodPost, "/applications", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UserHint")

	req = validRequest()
	req.ProfileRef = "ghost"
	rec = ts.do(t, http.MethodPost, "/applications", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown profile")

	assert.Empty(t, ts.queue.tasks)
}

func TestCreateApplication_QueueFullSkipsTask(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.queue.err = pipeline.ErrQueueFull

	rec := ts.do(t, http.MethodPost, "/applications", validRequest())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	apps, err := ts.store.ListApplications(context.Background(), store.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, types.StatusSkipped, apps[0].Status)
	assert.Equal(t, queueFullReason, apps[0].Reason)
	assert.NotNil(t, apps[0].CompletedAt)

	history, err := ts.store.ListStatusHistory(context.Background(), apps[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.StatusQueued, history[0].Old)
	assert.Equal(t, types.StatusSkipped, history[0].New)
	assert.Equal(t, "api", history[0].Actor)

	events, err := ts.store.ListEvents(context.Background(), apps[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Sequence)
	assert.Equal(t, "skipped", events[0].Type)
	assert.Equal(t, queueFullReason, events[0].Detail)
}

func TestMarkSubmitted(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusReviewReady)
	require.NoError(t, ts.store.AppendEvent(context.Background(), types.Event{
		ApplicationID: task.ID, Sequence: 7, Type: "review_ready", CreatedAt: time.Now(),
	}))

	rec := ts.do(t, http.MethodPost, "/applications/"+task.ID.String()+"/submitted",
		pipeline.Submission{Confirmation: pipeline.ConfirmedEmail, Note: "confirmation #A12"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[types.ApplicationTask](t, rec)
	assert.Equal(t, types.StatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)

	stored, err := ts.store.GetApplication(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSubmitted, stored.Status)
	assert.NotNil(t, stored.SubmittedAt)
	assert.Contains(t, stored.Reason, "email confirmation")

	history, err := ts.store.ListStatusHistory(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.StatusReviewReady, history[0].Old)
	assert.Equal(t, types.StatusSubmitted, history[0].New)
	assert.Equal(t, "api", history[0].Actor)

	events, err := ts.store.ListEvents(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 8, events[1].Sequence)
	assert.Equal(t, "submitted", events[1].Type)
	assert.Equal(t, "email", events[1].Payload["confirmation"])
}

func TestMarkSubmitted_EmptyBodyDefaultsToManual(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusReviewReady)

	rec := ts.do(t, http.MethodPost, "/applications/"+task.ID.String()+"/submitted", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[types.ApplicationTask](t, rec)
	assert.Contains(t, got.Reason, "manual confirmation")
}

func TestMarkSubmitted_Rejected(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	failed := seedTask(t, ts, types.StatusFailed)
	rec := ts.do(t, http.MethodPost, "/applications/"+failed.ID.String()+"/submitted", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	stored, err := ts.store.GetApplication(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.Nil(t, stored.SubmittedAt)

	ready := seedTask(t, ts, types.StatusReviewReady)
	rec = ts.do(t, http.MethodPost, "/applications/"+ready.ID.String()+"/submitted",
		pipeline.Submission{Confirmation: "carrier pigeon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/applications/"+uuid.NewString()+"/submitted", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetApplication(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusFilling)

	rec := ts.do(t, http.MethodGet, "/applications/"+task.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.ApplicationTask](t, rec)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, types.StatusFilling, got.Status)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/applications/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/applications/"+uuid.NewString(), nil).Code)
}

func TestListApplications(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	seedTask(t, ts, types.StatusFailed)
	seedTask(t, ts, types.StatusReviewReady)
	seedTask(t, ts, types.StatusReviewReady)

	rec := ts.do(t, http.MethodGet, "/applications?status=review_ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListApplicationsResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, defaultListLimit, resp.Limit)

	resp = decode[ListApplicationsResponse](t, ts.do(t, http.MethodGet, "/applications?limit=1", nil))
	assert.Equal(t, 1, resp.Count)

	resp = decode[ListApplicationsResponse](t, ts.do(t, http.MethodGet, "/applications?limit=100000", nil))
	assert.Equal(t, maxListLimit, resp.Limit)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/applications?status=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/applications?limit=-3", nil).Code)
}

func TestApplicationSubresources(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ctx := context.Background()
	task := seedTask(t, ts, types.StatusFailed)

	require.NoError(t, ts.store.RecordStatusChange(ctx, types.StatusChange{ApplicationID: task.ID, Old: types.StatusQueued, New: types.StatusFailed, Actor: "orchestrator", At: time.Now()}))
	require.NoError(t, ts.store.AppendEvent(ctx, types.Event{ApplicationID: task.ID, Sequence: 1, Type: "failed", CreatedAt: time.Now()}))
	require.NoError(t, ts.store.SaveQAIssues(ctx, task.ID, []types.QAIssue{{Category: types.IssueDisallowedSkill, Field: "answers", DetectedValue: "Rust"}}))

	for path, key := range map[string]string{
		"/history":       "history",
		"/events":        "events",
		"/qa-issues":     "qa_issues",
		"/interruptions": "interruptions",
	} {
		t.Run(key, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/applications/"+task.ID.String()+path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			body := decode[map[string]any](t, rec)
			require.Contains(t, body, key)
			assert.NotNil(t, body[key], "empty lists are [] not null")

			missing := ts.do(t, http.MethodGet, "/applications/"+uuid.NewString()+path, nil)
			assert.Equal(t, http.StatusNotFound, missing.Code)
		})
	}

	body := decode[map[string]any](t, ts.do(t, http.MethodGet, "/applications/"+task.ID.String()+"/qa-issues", nil))
	assert.Equal(t, float64(1), body["count"])
}

func TestStream_TerminalTaskCompletesImmediately(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusReviewReady)

	rec := ts.do(t, http.MethodGet, "/applications/"+task.ID.String()+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: status")
	assert.Contains(t, rec.Body.String(), "event: complete")
	assert.Contains(t, rec.Body.String(), `"status":"review_ready"`)
	assert.Equal(t, 0, ts.hub.Subscribers(task.ID))
}

func TestStream_FollowsTransitionsUntilTerminal(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusFilling)
	httpServer := httptest.NewServer(ts.Handler())
	defer httpServer.Close()

	resp, err := http.Get(httpServer.URL + "/applications/" + task.ID.String() + "/stream")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return ts.hub.Subscribers(task.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	id := task.ID.String()
	ts.hub.Publish(pipeline.ProgressEvent{Step: string(types.InterruptCaptcha), Category: pipeline.CategoryInterruption, ApplicationID: id})
	ts.hub.Publish(pipeline.ProgressEvent{Step: string(types.StatusQAReview), Category: pipeline.CategoryTransition, ApplicationID: id})
	ts.hub.Publish(pipeline.ProgressEvent{Step: string(types.StatusReviewReady), Category: pipeline.CategoryTransition, ApplicationID: id})

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"status", "interruption", "transition", "transition", "complete"}, events)
	assert.Eventually(t, func() bool { return ts.hub.Subscribers(task.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_Missing(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := ts.do(t, http.MethodGet, "/applications/"+uuid.NewString()+"/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicies(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPut, "/domains/policies/LinkedIn.com", map[string]any{
		"max_applications_per_day": 20,
		"min_seconds_between":      300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	policy := decode[types.DomainPolicy](t, rec)
	assert.Equal(t, "linkedin.com", policy.Domain)
	assert.Equal(t, 1, policy.MaxConcurrent)

	rec = ts.do(t, http.MethodGet, "/domains/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Policies []types.DomainPolicy `json:"policies"`
	}](t, rec)
	require.Len(t, body.Policies, 1)
	require.NotNil(t, body.Policies[0].MaxApplicationsPerDay)
	assert.Equal(t, 20, *body.Policies[0].MaxApplicationsPerDay)

	rec = ts.do(t, http.MethodPut, "/domains/policies/linkedin.com", map[string]any{"max_concurrent": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MaxConcurrent")
}

func TestBlockAndUnblockDomain(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/domains/workday.com/block", BlockRequest{Hours: 12, Reason: "captcha storm"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ledger := decode[struct {
		Entries []types.DomainLedgerEntry `json:"entries"`
	}](t, ts.do(t, http.MethodGet, "/domains/ledger", nil))
	require.Len(t, ledger.Entries, 1)
	assert.True(t, ledger.Entries[0].Blocked)
	assert.Contains(t, ledger.Entries[0].Notes, "captcha storm")

	rec = ts.do(t, http.MethodDelete, "/domains/workday.com/block", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger = decode[struct {
		Entries []types.DomainLedgerEntry `json:"entries"`
	}](t, ts.do(t, http.MethodGet, "/domains/ledger", nil))
	assert.False(t, ledger.Entries[0].Blocked)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/domains/workday.com/block", BlockRequest{Hours: 0, Reason: "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/domains/ledger?day=yesterday", nil).Code)
}

func TestAuthentication(t *testing.T) {
	jwt := NewJWTService(&config.JWTConfig{Secret: testSecret, Issuer: config.DefaultJWTIssuer, ExpirationHours: 1})
	ts := newTestServer(t, jwt, nil)
	token, err := jwt.GenerateToken("dashboard")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/applications", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/applications", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/applications", nil, "Authorization", "Bearer "+token).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodOptions, "/applications", nil).Code)

	ts.queue.err = pipeline.ErrQueueClosed
	rec := ts.do(t, http.MethodPost, "/applications", validRequest(), "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	apps, err := ts.store.ListApplications(context.Background(), store.ApplicationFilter{})
	require.NoError(t, err)
	history, err := ts.store.ListStatusHistory(context.Background(), apps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "api:dashboard", history[0].Actor)
}

func TestRateLimit(t *testing.T) {
	fixed := time.Now()
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled: true,
		Now:     func() time.Time { return fixed },
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/applications", Method: http.MethodPost, Limit: 1, Window: time.Hour, Burst: 1},
		},
	})
	ts := newTestServer(t, nil, limiter)

	first := ts.do(t, http.MethodPost, "/applications", validRequest())
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := ts.do(t, http.MethodPost, "/applications", validRequest())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "3600", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")

	// other routes fall back to the (unlimited) default
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/applications", nil).Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStream_Heartbeat(t *testing.T) {
	prev := streamHeartbeat
	streamHeartbeat = 20 * time.Millisecond
	t.Cleanup(func() { streamHeartbeat = prev })

	ts := newTestServer(t, nil, nil)
	task := seedTask(t, ts, types.StatusAwaitingHuman)
	httpServer := httptest.NewServer(ts.Handler())
	defer httpServer.Close()

	resp, err := http.Get(httpServer.URL + "/applications/" + task.ID.String() + "/stream")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if scanner.Text() == ": ping" {
			break
		}
	}
	assert.Contains(t, lines, "id: 1")
	assert.Contains(t, lines, "event: status")
	assert.Contains(t, lines, ": ping")
}
