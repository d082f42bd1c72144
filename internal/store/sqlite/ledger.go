package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

const ledgerColumns = `domain, day, attempted, succeeded, failed, blocked, blocked_until, last_attempt_at, notes`

const dayLayout = "2006-01-02"

// GetLedgerEntry returns the entry for (domain, day), or nil when none exists.
func (s *Store) GetLedgerEntry(ctx context.Context, domain string, day time.Time) (*types.DomainLedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM domain_ledger WHERE domain = ? AND day = ?`,
		strings.ToLower(domain), day.Format(dayLayout),
	)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// IncrementLedger records one attempt and its outcome with a single upsert.
func (s *Store) IncrementLedger(ctx context.Context, domain string, day time.Time, success bool, at time.Time) error {
	succeeded, failed := 0, 1
	if success {
		succeeded, failed = 1, 0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_ledger (domain, day, attempted, succeeded, failed, last_attempt_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (domain, day) DO UPDATE SET
			attempted = domain_ledger.attempted + 1,
			succeeded = domain_ledger.succeeded + excluded.succeeded,
			failed = domain_ledger.failed + excluded.failed,
			last_attempt_at = excluded.last_attempt_at`,
		strings.ToLower(domain), day.Format(dayLayout), succeeded, failed, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to increment ledger: %w", err)
	}
	return nil
}

// SetBlocked marks the domain blocked until the given time.
func (s *Store) SetBlocked(ctx context.Context, domain string, day time.Time, until time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_ledger (domain, day, blocked, blocked_until, notes)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (domain, day) DO UPDATE SET
			blocked = 1,
			blocked_until = excluded.blocked_until,
			notes = excluded.notes`,
		strings.ToLower(domain), day.Format(dayLayout), formatTime(until), reason,
	)
	if err != nil {
		return fmt.Errorf("failed to block domain: %w", err)
	}
	return nil
}

// ClearBlock removes the block flag for the day.
func (s *Store) ClearBlock(ctx context.Context, domain string, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE domain_ledger SET blocked = 0, blocked_until = NULL WHERE domain = ? AND day = ?`,
		strings.ToLower(domain), day.Format(dayLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to clear block: %w", err)
	}
	return nil
}

// ListLedger returns all entries for a day, sorted by domain.
func (s *Store) ListLedger(ctx context.Context, day time.Time) ([]types.DomainLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM domain_ledger WHERE day = ? ORDER BY domain`,
		day.Format(dayLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.DomainLedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row scanner) (*types.DomainLedgerEntry, error) {
	var (
		e                  types.DomainLedgerEntry
		day                string
		blockedUntil, last sql.NullString
	)
	err := row.Scan(&e.Domain, &day, &e.Attempted, &e.Succeeded, &e.Failed,
		&e.Blocked, &blockedUntil, &last, &e.Notes)
	if err != nil {
		return nil, err
	}
	if e.Day, err = time.Parse(dayLayout, day); err != nil {
		return nil, fmt.Errorf("invalid ledger day %q: %w", day, err)
	}
	if e.BlockedUntil, err = parseTimePtr(blockedUntil); err != nil {
		return nil, err
	}
	if e.LastAttemptAt, err = parseTimePtr(last); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetPolicy returns the policy for a domain, or nil.
func (s *Store) GetPolicy(ctx context.Context, domain string) (*types.DomainPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes
		FROM domain_policies WHERE domain = ?`,
		strings.ToLower(domain),
	)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// UpsertPolicy inserts or replaces a domain policy.
func (s *Store) UpsertPolicy(ctx context.Context, p types.DomainPolicy) error {
	if p.Domain == "" {
		return fmt.Errorf("policy domain is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_policies (domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			max_applications_per_day = excluded.max_applications_per_day,
			min_seconds_between = excluded.min_seconds_between,
			max_concurrent = excluded.max_concurrent,
			avoid = excluded.avoid,
			notes = excluded.notes`,
		strings.ToLower(p.Domain), nullInt(p.MaxApplicationsPerDay), nullInt(p.MinSecondsBetween), p.MaxConcurrent, p.Avoid, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}
	return nil
}

// ListPolicies returns all policies sorted by domain.
func (s *Store) ListPolicies(ctx context.Context) ([]types.DomainPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes
		FROM domain_policies ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []types.DomainPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func scanPolicy(row scanner) (*types.DomainPolicy, error) {
	var (
		p                 types.DomainPolicy
		maxPerDay, minGap sql.NullInt64
	)
	if err := row.Scan(&p.Domain, &maxPerDay, &minGap, &p.MaxConcurrent, &p.Avoid, &p.Notes); err != nil {
		return nil, err
	}
	p.MaxApplicationsPerDay = intPtr(maxPerDay)
	p.MinSecondsBetween = intPtr(minGap)
	return &p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
