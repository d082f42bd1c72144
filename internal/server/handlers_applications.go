package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/intake"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// queueFullReason is recorded on tasks turned away because the queue was full.
const queueFullReason = "Submission queue is full"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateApplicationResponse is returned for an accepted application.
type CreateApplicationResponse struct {
	ID         uuid.UUID    `json:"id"`
	Status     types.Status `json:"status"`
	Domain     string       `json:"domain"`
	MatchScore float64      `json:"match_score"`
	StreamURL  string       `json:"stream_url"`
}

// ListApplicationsResponse is the body of GET /applications.
type ListApplicationsResponse struct {
	Applications []types.ApplicationTask `json:"applications"`
	Count        int                     `json:"count"`
	Limit        int                     `json:"limit"`
}

// handleCreateApplication builds a task, persists it as queued and hands it to the queue.
func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req intake.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := s.deps.Intake.Build(ctx, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.deps.Store.SaveApplication(ctx, task); err != nil {
		s.fail(w, err)
		return
	}

	if err := s.deps.Queue.Submit(task); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrQueueClosed) {
			s.rejectQueued(r, task)
		}
		s.fail(w, err)
		return
	}

	log.Printf("[API] Queued application %s for %s (score %.2f)", task.ID, task.Domain, task.MatchScore)
	s.jsonResponse(w, http.StatusAccepted, CreateApplicationResponse{
		ID:         task.ID,
		Status:     types.StatusQueued,
		Domain:     task.Domain,
		MatchScore: task.MatchScore,
		StreamURL:  "/applications/" + task.ID.String() + "/stream",
	})
}

// rejectQueued moves a task the queue refused to skipped so nothing stays queued forever.
func (s *Server) rejectQueued(r *http.Request, task *types.ApplicationTask) {
	now := s.now()
	task.CompletedAt = &now
	err := pipeline.ManualTransition(r.Context(), s.deps.Store, task, types.StatusSkipped, queueFullReason, actor(r), now, nil)
	if err != nil {
		log.Printf("[API] Failed to mark %s skipped: %v", task.ID, err)
	}
}

// handleMarkSubmitted records that the operator submitted a reviewed application.
func (s *Server) handleMarkSubmitted(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req pipeline.Submission
	if r.ContentLength != 0 && !s.decodeValid(w, r, &req) {
		return
	}

	task, err := pipeline.MarkSubmitted(r.Context(), s.deps.Store, id, req, actor(r), s.now())
	if err != nil {
		s.fail(w, err)
		return
	}
	log.Printf("[API] Application %s marked submitted by %s", task.ID, actor(r))
	s.jsonResponse(w, http.StatusOK, task)
}

// handleListApplications lists applications, newest first, with optional filters.
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		s.fail(w, err)
		return
	}

	filter := store.ApplicationFilter{
		Status: types.Status(q.Get("status")),
		Domain: q.Get("domain"),
		Limit:  limit,
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		s.fail(w, &ErrInvalidParam{Name: "status", Value: q.Get("status")})
		return
	}

	apps, err := s.deps.Store.ListApplications(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if apps == nil {
		apps = []types.ApplicationTask{}
	}
	s.jsonResponse(w, http.StatusOK, ListApplicationsResponse{Applications: apps, Count: len(apps), Limit: limit})
}

// handleGetApplication returns one application.
func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	task, err := s.deps.Store.GetApplication(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "history", s.deps.Store.ListStatusHistory)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "events", s.deps.Store.ListEvents)
}

func (s *Server) handleQAIssues(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "qa_issues", s.deps.Store.ListQAIssues)
}

func (s *Server) handleInterruptions(w http.ResponseWriter, r *http.Request) {
	listFor(s, w, r, "interruptions", s.deps.Store.ListInterruptions)
}

// listFor serves a per-application list after checking the application exists.
func listFor[T any](s *Server, w http.ResponseWriter, r *http.Request, key string, list func(ctx context.Context, id uuid.UUID) ([]T, error)) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if _, err := s.deps.Store.GetApplication(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	items, err := list(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{key: items, "count": len(items)})
}

// handleStream streams progress events for one application as Server-Sent Events
// until it reaches a terminal status or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	// subscribe before reading the task so no transition falls in between
	events, unsubscribe := s.deps.Hub.Subscribe(id)
	defer unsubscribe()

	task, err := s.deps.Store.GetApplication(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteEvent("status", map[string]any{"id": task.ID, "status": task.Status}); err != nil {
		return
	}
	if task.Status.IsTerminal() {
		sse.WriteComplete(task.ID.String(), string(task.Status))
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := sse.WriteHeartbeat(); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(event.Category, event); err != nil {
				return
			}
			status := types.Status(event.Step)
			if event.Category == pipeline.CategoryTransition && status.IsTerminal() {
				sse.WriteComplete(id.String(), event.Step)
				return
			}
		}
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ErrInvalidParam{Name: "id", Value: raw}
	}
	return id, nil
}

// queryInt parses an optional positive integer parameter capped at ceiling.
func queryInt(r *http.Request, name string, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &ErrInvalidParam{Name: name, Value: raw}
	}
	return min(n, ceiling), nil
}

func validStatus(s types.Status) bool {
	switch s {
	case types.StatusQueued, types.StatusPlanning, types.StatusGenerating, types.StatusFilling,
		types.StatusAwaitingHuman, types.StatusQAReview, types.StatusReviewReady,
		types.StatusSubmitted, types.StatusFailed, types.StatusSkipped:
		return true
	}
	return false
}
