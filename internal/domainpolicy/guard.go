// Package domainpolicy provides per-domain admission control: daily caps, minimum
// spacing, concurrency limits, temporary blocks and "avoid" designations.
package domainpolicy

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Store is the subset of storage the guard needs.
type Store interface {
	store.LedgerStore
	store.PolicyStore
}

// Default block behaviour after repeated failures on one domain.
const (
	DefaultBlockAfterFailures = 3
	DefaultBlockHours         = 24
)

// Options configures a Guard.
type Options struct {
	// BlockAfterFailures blocks a domain once its failures for the day reach this count. Zero disables.
	BlockAfterFailures int
	// BlockHours is the block duration used for automatic blocks.
	BlockHours int
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Guard decides whether a domain may receive another application.
// Admission is advisory: two tasks may race past a check, bounded by the next day's counters.
type Guard struct {
	store              Store
	now                func() time.Time
	blockAfterFailures int
	blockHours         int

	mu     sync.Mutex
	active map[string]int
}

// NewGuard creates a guard backed by the given store.
func NewGuard(s Store, opts Options) *Guard {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BlockHours <= 0 {
		opts.BlockHours = DefaultBlockHours
	}
	return &Guard{
		store:              s,
		now:                opts.Now,
		blockAfterFailures: opts.BlockAfterFailures,
		blockHours:         opts.BlockHours,
		active:             make(map[string]int),
	}
}

// Admit applies the domain policy to today's attempt count.
// A domain without a policy is admitted unconditionally.
func (g *Guard) Admit(ctx context.Context, domain string, attemptsToday int) (bool, string, error) {
	policy, err := g.store.GetPolicy(ctx, domain)
	if err != nil {
		return false, "", fmt.Errorf("failed to load policy for %s: %w", domain, err)
	}
	allow, reason := admit(policy, attemptsToday)
	return allow, reason, nil
}

func admit(policy *types.DomainPolicy, attemptsToday int) (bool, string) {
	if policy == nil {
		return true, ""
	}
	if policy.Avoid {
		if policy.Notes != "" {
			return false, policy.Notes
		}
		return false, "Domain marked as 'avoid if possible'"
	}
	if policy.MaxApplicationsPerDay != nil && attemptsToday >= *policy.MaxApplicationsPerDay {
		return false, fmt.Sprintf("Daily limit reached (%d)", *policy.MaxApplicationsPerDay)
	}
	return true, ""
}

// IsBlocked reports whether today's ledger entry blocks the domain.
// An expired block is cleared as a side effect.
func (g *Guard) IsBlocked(ctx context.Context, domain string) (bool, error) {
	now := g.now()
	day := types.Day(now)

	entry, err := g.store.GetLedgerEntry(ctx, domain, day)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger for %s: %w", domain, err)
	}
	if entry == nil || !entry.Blocked {
		return false, nil
	}
	if entry.BlockedUntil != nil && now.After(*entry.BlockedUntil) {
		if err := g.store.ClearBlock(ctx, domain, day); err != nil {
			return false, fmt.Errorf("failed to clear expired block for %s: %w", domain, err)
		}
		log.Printf("[DOMAIN] %s unblocked (block expired at %s)", domain, entry.BlockedUntil.Format(time.RFC3339))
		return false, nil
	}
	return true, nil
}

// RecordOutcome counts one attempt for today. Call it exactly once per attempt.
func (g *Guard) RecordOutcome(ctx context.Context, domain string, success bool) error {
	now := g.now()
	day := types.Day(now)

	if err := g.store.IncrementLedger(ctx, domain, day, success, now); err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", domain, err)
	}
	log.Printf("[DOMAIN] recorded application for %s (success: %t)", domain, success)

	if success || g.blockAfterFailures <= 0 {
		return nil
	}

	entry, err := g.store.GetLedgerEntry(ctx, domain, day)
	if err != nil {
		return fmt.Errorf("failed to read ledger for %s: %w", domain, err)
	}
	if entry != nil && !entry.Blocked && entry.Failed >= g.blockAfterFailures {
		reason := fmt.Sprintf("%d failed applications today", entry.Failed)
		return g.MarkBlocked(ctx, domain, g.blockHours, reason)
	}
	return nil
}

// MarkBlocked blocks the domain for durationHours.
func (g *Guard) MarkBlocked(ctx context.Context, domain string, durationHours int, reason string) error {
	now := g.now()
	until := now.Add(time.Duration(durationHours) * time.Hour)

	if err := g.store.SetBlocked(ctx, domain, types.Day(now), until, reason); err != nil {
		return fmt.Errorf("failed to block %s: %w", domain, err)
	}
	log.Printf("[DOMAIN] %s blocked until %s - reason: %s", domain, until.Format(time.RFC3339), reason)
	return nil
}

// Admission is the result of Check.
type Admission struct {
	Allowed bool
	Reason  string
	// Release frees the concurrency slot taken by an allowed admission. Always safe to call.
	Release func()
}

// Check composes every admission rule: block state, policy, minimum spacing and the
// per-domain concurrency cap. An allowed admission holds a slot until Release is called.
func (g *Guard) Check(ctx context.Context, domain string) (Admission, error) {
	noop := func() {}

	blocked, err := g.IsBlocked(ctx, domain)
	if err != nil {
		return Admission{Release: noop}, err
	}
	if blocked {
		return Admission{Reason: "Domain temporarily blocked", Release: noop}, nil
	}

	now := g.now()
	entry, err := g.store.GetLedgerEntry(ctx, domain, types.Day(now))
	if err != nil {
		return Admission{Release: noop}, fmt.Errorf("failed to read ledger for %s: %w", domain, err)
	}
	attempts := 0
	if entry != nil {
		attempts = entry.Attempted
	}

	policy, err := g.store.GetPolicy(ctx, domain)
	if err != nil {
		return Admission{Release: noop}, fmt.Errorf("failed to load policy for %s: %w", domain, err)
	}
	if allow, reason := admit(policy, attempts); !allow {
		return Admission{Reason: reason, Release: noop}, nil
	}
	if policy == nil {
		return Admission{Allowed: true, Release: noop}, nil
	}

	if policy.MinSecondsBetween != nil && entry != nil && entry.LastAttemptAt != nil {
		minGap := time.Duration(*policy.MinSecondsBetween) * time.Second
		if gap := now.Sub(*entry.LastAttemptAt); gap < minGap {
			return Admission{
				Reason:  fmt.Sprintf("Minimum spacing not met (%s remaining)", (minGap - gap).Round(time.Second)),
				Release: noop,
			}, nil
		}
	}

	release, ok := g.acquire(domain, policy.MaxConcurrent)
	if !ok {
		return Admission{
			Reason:  fmt.Sprintf("Max concurrent applications reached (%d)", policy.MaxConcurrent),
			Release: noop,
		}, nil
	}
	return Admission{Allowed: true, Release: release}, nil
}

// acquire takes a concurrency slot for domain. A non-positive limit means unlimited.
func (g *Guard) acquire(domain string, limit int) (func(), bool) {
	key := strings.ToLower(domain)

	g.mu.Lock()
	defer g.mu.Unlock()

	if limit > 0 && g.active[key] >= limit {
		return nil, false
	}
	g.active[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.active[key]--
			if g.active[key] <= 0 {
				delete(g.active, key)
			}
		})
	}, true
}

// DomainFromURL extracts the lowercased host of a URL without a leading "www.".
func DomainFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}
