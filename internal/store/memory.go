package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Memory is a process-local Store. It is used in tests and when no database is configured.
type Memory struct {
	mu            sync.RWMutex
	applications  map[uuid.UUID]types.ApplicationTask
	history       map[uuid.UUID][]types.StatusChange
	events        map[uuid.UUID][]types.Event
	qaIssues      map[uuid.UUID][]types.QAIssue
	interruptions map[uuid.UUID][]types.Interruption
	ledger        map[string]types.DomainLedgerEntry
	policies      map[string]types.DomainPolicy
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applications:  make(map[uuid.UUID]types.ApplicationTask),
		history:       make(map[uuid.UUID][]types.StatusChange),
		events:        make(map[uuid.UUID][]types.Event),
		qaIssues:      make(map[uuid.UUID][]types.QAIssue),
		interruptions: make(map[uuid.UUID][]types.Interruption),
		ledger:        make(map[string]types.DomainLedgerEntry),
		policies:      make(map[string]types.DomainPolicy),
	}
}

var _ Store = (*Memory)(nil)

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// SaveApplication upserts the task, keeping stored usage totals.
func (m *Memory) SaveApplication(_ context.Context, task *types.ApplicationTask) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *task
	stored.Answers = append([]types.FilledAnswer(nil), task.Answers...)
	if prev, ok := m.applications[task.ID]; ok {
		stored.Usage = prev.Usage
	} else {
		stored.Usage = types.Usage{}
	}
	m.applications[task.ID] = stored
	return nil
}

// GetApplication returns a copy of the stored task.
func (m *Memory) GetApplication(_ context.Context, id uuid.UUID) (*types.ApplicationTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

// ListApplications returns tasks newest first.
func (m *Memory) ListApplications(_ context.Context, filter ApplicationFilter) ([]types.ApplicationTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []types.ApplicationTask
	for _, task := range m.applications {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Domain != "" && task.Domain != filter.Domain {
			continue
		}
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// RecordStatusChange appends to the status history.
func (m *Memory) RecordStatusChange(_ context.Context, change types.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[change.ApplicationID] = append(m.history[change.ApplicationID], change)
	return nil
}

// ListStatusHistory returns the status history in insertion order.
func (m *Memory) ListStatusHistory(_ context.Context, id uuid.UUID) ([]types.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.StatusChange(nil), m.history[id]...), nil
}

// AppendEvent stores an event, rejecting duplicate sequence numbers.
func (m *Memory) AppendEvent(_ context.Context, event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.events[event.ApplicationID] {
		if existing.Sequence == event.Sequence {
			return fmt.Errorf("event %s/%d already exists", event.ApplicationID, event.Sequence)
		}
	}
	m.events[event.ApplicationID] = append(m.events[event.ApplicationID], event)
	return nil
}

// ListEvents returns events ordered by sequence.
func (m *Memory) ListEvents(_ context.Context, id uuid.UUID) ([]types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := append([]types.Event(nil), m.events[id]...)
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

// AddUsage adds to the application's usage totals.
func (m *Memory) AddUsage(_ context.Context, id uuid.UUID, usage types.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.applications[id]
	if !ok {
		return ErrNotFound
	}
	task.Usage = task.Usage.Add(usage)
	m.applications[id] = task
	return nil
}

// SaveQAIssues appends QA issues for an application.
func (m *Memory) SaveQAIssues(_ context.Context, id uuid.UUID, issues []types.QAIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qaIssues[id] = append(m.qaIssues[id], issues...)
	return nil
}

// ListQAIssues returns the QA issues recorded for an application.
func (m *Memory) ListQAIssues(_ context.Context, id uuid.UUID) ([]types.QAIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.QAIssue(nil), m.qaIssues[id]...), nil
}

// SaveInterruption records the outcome of an interruption.
func (m *Memory) SaveInterruption(_ context.Context, id uuid.UUID, interruption *types.Interruption) error {
	if interruption == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptions[id] = append(m.interruptions[id], *interruption)
	return nil
}

// ListInterruptions returns the interruption records for an application in insertion order.
func (m *Memory) ListInterruptions(_ context.Context, id uuid.UUID) ([]types.Interruption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Interruption(nil), m.interruptions[id]...), nil
}

func ledgerKey(domain string, day time.Time) string {
	return strings.ToLower(domain) + "|" + day.Format("2006-01-02")
}

// GetLedgerEntry returns the entry for (domain, day), or nil.
func (m *Memory) GetLedgerEntry(_ context.Context, domain string, day time.Time) (*types.DomainLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.ledger[ledgerKey(domain, day)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// IncrementLedger adds one attempt and one success or failure.
func (m *Memory) IncrementLedger(_ context.Context, domain string, day time.Time, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey(domain, day)
	entry, ok := m.ledger[key]
	if !ok {
		entry = types.DomainLedgerEntry{Domain: domain, Day: types.Day(day)}
	}
	entry.Attempted++
	if success {
		entry.Succeeded++
	} else {
		entry.Failed++
	}
	entry.LastAttemptAt = &at
	m.ledger[key] = entry
	return nil
}

// SetBlocked marks the domain blocked until the given time.
func (m *Memory) SetBlocked(_ context.Context, domain string, day time.Time, until time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey(domain, day)
	entry, ok := m.ledger[key]
	if !ok {
		entry = types.DomainLedgerEntry{Domain: domain, Day: types.Day(day)}
	}
	entry.Blocked = true
	entry.BlockedUntil = &until
	entry.Notes = reason
	m.ledger[key] = entry
	return nil
}

// ClearBlock removes the block flag for the day.
func (m *Memory) ClearBlock(_ context.Context, domain string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey(domain, day)
	entry, ok := m.ledger[key]
	if !ok {
		return nil
	}
	entry.Blocked = false
	entry.BlockedUntil = nil
	m.ledger[key] = entry
	return nil
}

// ListLedger returns all entries for a day, sorted by domain.
func (m *Memory) ListLedger(_ context.Context, day time.Time) ([]types.DomainLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := day.Format("2006-01-02")
	var entries []types.DomainLedgerEntry
	for _, entry := range m.ledger {
		if entry.Day.Format("2006-01-02") == want {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Domain < entries[j].Domain })
	return entries, nil
}

// GetPolicy returns the policy for a domain, or nil.
func (m *Memory) GetPolicy(_ context.Context, domain string) (*types.DomainPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[strings.ToLower(domain)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// UpsertPolicy stores a policy.
func (m *Memory) UpsertPolicy(_ context.Context, policy types.DomainPolicy) error {
	if policy.Domain == "" {
		return fmt.Errorf("policy domain is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[strings.ToLower(policy.Domain)] = policy
	return nil
}

// ListPolicies returns all policies sorted by domain.
func (m *Memory) ListPolicies(_ context.Context) ([]types.DomainPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policies := make([]types.DomainPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Domain < policies[j].Domain })
	return policies, nil
}
