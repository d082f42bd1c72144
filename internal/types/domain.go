package types

import "time"

// DomainPolicy holds admission rules for a target site domain.
type DomainPolicy struct {
	Domain                string `json:"domain" yaml:"domain"`
	MaxApplicationsPerDay *int   `json:"max_applications_per_day,omitempty" yaml:"max_applications_per_day,omitempty"`
	MinSecondsBetween     *int   `json:"min_seconds_between,omitempty" yaml:"min_seconds_between,omitempty"`
	MaxConcurrent         int    `json:"max_concurrent" yaml:"max_concurrent"`
	Avoid                 bool   `json:"avoid" yaml:"avoid"`
	Notes                 string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// DomainLedgerEntry holds one calendar day of counters and block state for a domain.
type DomainLedgerEntry struct {
	Domain        string     `json:"domain"`
	Day           time.Time  `json:"day"`
	Attempted     int        `json:"attempted"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	Blocked       bool       `json:"blocked"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Day truncates t to its calendar day in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
