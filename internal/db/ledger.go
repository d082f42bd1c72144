package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

const ledgerColumns = `domain, day, attempted, succeeded, failed, blocked, blocked_until, last_attempt_at, notes`

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// GetLedgerEntry returns the entry for (domain, day), or nil when none exists.
func (db *DB) GetLedgerEntry(ctx context.Context, domain string, day time.Time) (*types.DomainLedgerEntry, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM domain_ledger WHERE domain = $1 AND day = $2::date`,
		strings.ToLower(domain), dayKey(day),
	)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// IncrementLedger records one attempt and its outcome. The counters are
// incremented in SQL so concurrent runs never lose an update.
func (db *DB) IncrementLedger(ctx context.Context, domain string, day time.Time, success bool, at time.Time) error {
	succeeded, failed := 0, 1
	if success {
		succeeded, failed = 1, 0
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO domain_ledger (domain, day, attempted, succeeded, failed, last_attempt_at)
		 VALUES ($1, $2::date, 1, $3, $4, $5)
		 ON CONFLICT (domain, day) DO UPDATE SET
			attempted = domain_ledger.attempted + 1,
			succeeded = domain_ledger.succeeded + EXCLUDED.succeeded,
			failed = domain_ledger.failed + EXCLUDED.failed,
			last_attempt_at = EXCLUDED.last_attempt_at`,
		strings.ToLower(domain), dayKey(day), succeeded, failed, at,
	)
	if err != nil {
		return fmt.Errorf("failed to increment ledger: %w", err)
	}
	return nil
}

// SetBlocked marks the domain blocked until the given time.
func (db *DB) SetBlocked(ctx context.Context, domain string, day time.Time, until time.Time, reason string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO domain_ledger (domain, day, blocked, blocked_until, notes)
		 VALUES ($1, $2::date, TRUE, $3, $4)
		 ON CONFLICT (domain, day) DO UPDATE SET
			blocked = TRUE,
			blocked_until = EXCLUDED.blocked_until,
			notes = EXCLUDED.notes`,
		strings.ToLower(domain), dayKey(day), until, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to block domain: %w", err)
	}
	return nil
}

// ClearBlock removes the block flag for the day.
func (db *DB) ClearBlock(ctx context.Context, domain string, day time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE domain_ledger SET blocked = FALSE, blocked_until = NULL WHERE domain = $1 AND day = $2::date`,
		strings.ToLower(domain), dayKey(day),
	)
	if err != nil {
		return fmt.Errorf("failed to clear block: %w", err)
	}
	return nil
}

// ListLedger returns all entries for a day, sorted by domain.
func (db *DB) ListLedger(ctx context.Context, day time.Time) ([]types.DomainLedgerEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM domain_ledger WHERE day = $1::date ORDER BY domain`,
		dayKey(day),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

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

func scanLedgerEntry(row pgx.Row) (*types.DomainLedgerEntry, error) {
	var e types.DomainLedgerEntry
	err := row.Scan(&e.Domain, &e.Day, &e.Attempted, &e.Succeeded, &e.Failed,
		&e.Blocked, &e.BlockedUntil, &e.LastAttemptAt, &e.Notes)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetPolicy returns the policy for a domain, or nil.
func (db *DB) GetPolicy(ctx context.Context, domain string) (*types.DomainPolicy, error) {
	var p types.DomainPolicy
	err := db.pool.QueryRow(ctx,
		`SELECT domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes
		 FROM domain_policies WHERE domain = $1`,
		strings.ToLower(domain),
	).Scan(&p.Domain, &p.MaxApplicationsPerDay, &p.MinSecondsBetween, &p.MaxConcurrent, &p.Avoid, &p.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return &p, nil
}

// UpsertPolicy inserts or replaces a domain policy.
func (db *DB) UpsertPolicy(ctx context.Context, p types.DomainPolicy) error {
	if p.Domain == "" {
		return fmt.Errorf("policy domain is required")
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO domain_policies (domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain) DO UPDATE SET
			max_applications_per_day = EXCLUDED.max_applications_per_day,
			min_seconds_between = EXCLUDED.min_seconds_between,
			max_concurrent = EXCLUDED.max_concurrent,
			avoid = EXCLUDED.avoid,
			notes = EXCLUDED.notes,
			updated_at = NOW()`,
		strings.ToLower(p.Domain), p.MaxApplicationsPerDay, p.MinSecondsBetween, p.MaxConcurrent, p.Avoid, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}
	return nil
}

// ListPolicies returns all policies sorted by domain.
func (db *DB) ListPolicies(ctx context.Context) ([]types.DomainPolicy, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT domain, max_applications_per_day, min_seconds_between, max_concurrent, avoid, notes
		 FROM domain_policies ORDER BY domain`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []types.DomainPolicy
	for rows.Next() {
		var p types.DomainPolicy
		if err := rows.Scan(&p.Domain, &p.MaxApplicationsPerDay, &p.MinSecondsBetween, &p.MaxConcurrent, &p.Avoid, &p.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
