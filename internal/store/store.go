// Package store defines the storage contract the orchestrator depends on and an
// in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ApplicationFilter narrows ListApplications.
type ApplicationFilter struct {
	Status types.Status
	Domain string
	Limit  int
}

// ApplicationStore persists application tasks and their provenance.
type ApplicationStore interface {
	// SaveApplication upserts the task row. Usage totals are not written here; see AddUsage.
	SaveApplication(ctx context.Context, task *types.ApplicationTask) error
	GetApplication(ctx context.Context, id uuid.UUID) (*types.ApplicationTask, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]types.ApplicationTask, error)

	RecordStatusChange(ctx context.Context, change types.StatusChange) error
	ListStatusHistory(ctx context.Context, id uuid.UUID) ([]types.StatusChange, error)

	// AppendEvent stores an event keyed by (ApplicationID, Sequence).
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, id uuid.UUID) ([]types.Event, error)

	// AddUsage adds to the application's token and cost totals.
	AddUsage(ctx context.Context, id uuid.UUID, usage types.Usage) error
	SaveQAIssues(ctx context.Context, id uuid.UUID, issues []types.QAIssue) error
	ListQAIssues(ctx context.Context, id uuid.UUID) ([]types.QAIssue, error)
	// SaveInterruption appends a snapshot; one interruption may be recorded at several stages.
	SaveInterruption(ctx context.Context, id uuid.UUID, interruption *types.Interruption) error
	ListInterruptions(ctx context.Context, id uuid.UUID) ([]types.Interruption, error)
}

// LedgerStore persists per-domain daily counters. Increments must be atomic at the
// storage layer so concurrent tasks need no global lock.
type LedgerStore interface {
	// GetLedgerEntry returns nil, nil when no entry exists for the day.
	GetLedgerEntry(ctx context.Context, domain string, day time.Time) (*types.DomainLedgerEntry, error)
	IncrementLedger(ctx context.Context, domain string, day time.Time, success bool, at time.Time) error
	SetBlocked(ctx context.Context, domain string, day time.Time, until time.Time, reason string) error
	ClearBlock(ctx context.Context, domain string, day time.Time) error
	ListLedger(ctx context.Context, day time.Time) ([]types.DomainLedgerEntry, error)
}

// PolicyStore persists domain policies.
type PolicyStore interface {
	// GetPolicy returns nil, nil when the domain has no policy.
	GetPolicy(ctx context.Context, domain string) (*types.DomainPolicy, error)
	UpsertPolicy(ctx context.Context, policy types.DomainPolicy) error
	ListPolicies(ctx context.Context) ([]types.DomainPolicy, error)
}

// Store is the full storage collaborator.
type Store interface {
	ApplicationStore
	LedgerStore
	PolicyStore
	Close() error
}
