package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PolicyRequest is the body of PUT /domains/policies/{domain}.
type PolicyRequest struct {
	MaxApplicationsPerDay *int   `json:"max_applications_per_day" validate:"omitempty,gte=0"`
	MinSecondsBetween     *int   `json:"min_seconds_between" validate:"omitempty,gte=0"`
	MaxConcurrent         int    `json:"max_concurrent" validate:"gte=0,lte=20"`
	Avoid                 bool   `json:"avoid"`
	Notes                 string `json:"notes" validate:"max=500"`
}

// BlockRequest is the body of POST /domains/{domain}/block.
type BlockRequest struct {
	Hours  int    `json:"hours" validate:"required,min=1,max=720"`
	Reason string `json:"reason" validate:"required,max=200"`
}

// handleLedger returns the ledger for ?day=YYYY-MM-DD, today by default.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	day := types.Day(s.now())
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			s.fail(w, &ErrInvalidParam{Name: "day", Value: raw})
			return
		}
		day = parsed
	}

	entries, err := s.deps.Store.ListLedger(r.Context(), day)
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []types.DomainLedgerEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"day":     day.Format("2006-01-02"),
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.deps.Store.ListPolicies(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if policies == nil {
		policies = []types.DomainPolicy{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
}

// handlePutPolicy creates or replaces the policy for a domain.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(r.PathValue("domain")))

	var req PolicyRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	policy := types.DomainPolicy{
		Domain:                domain,
		MaxApplicationsPerDay: req.MaxApplicationsPerDay,
		MinSecondsBetween:     req.MinSecondsBetween,
		MaxConcurrent:         req.MaxConcurrent,
		Avoid:                 req.Avoid,
		Notes:                 req.Notes,
	}
	if policy.MaxConcurrent == 0 {
		policy.MaxConcurrent = 1
	}
	if err := s.deps.Store.UpsertPolicy(r.Context(), policy); err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, policy)
}

// handleBlockDomain blocks a domain for the requested number of hours.
func (s *Server) handleBlockDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(r.PathValue("domain")))

	var req BlockRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if err := s.deps.Guard.MarkBlocked(r.Context(), domain, req.Hours, req.Reason+" ("+actor(r)+")"); err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"domain":        domain,
		"blocked":       true,
		"blocked_until": s.now().Add(time.Duration(req.Hours) * time.Hour).Format(time.RFC3339),
	})
}

// handleUnblockDomain lifts today's block for a domain.
func (s *Server) handleUnblockDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(r.PathValue("domain")))
	if err := s.deps.Store.ClearBlock(r.Context(), domain, types.Day(s.now())); err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"domain": domain, "blocked": false})
}

// decodeValid decodes and validates a JSON body, writing a 400 on failure.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			s.fail(w, &ErrValidation{Field: fieldErrs[0].Field(), Message: fieldErrs[0].Tag()})
			return false
		}
		s.fail(w, &ErrValidation{Field: "request", Message: "invalid"})
		return false
	}
	return true
}
