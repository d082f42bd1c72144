package domainpolicy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// File is the on-disk policy seed. Example:
//
//	policies:
//	  - domain: linkedin.com
//	    max_applications_per_day: 20
//	    min_seconds_between: 300
//	    max_concurrent: 1
//	companies:
//	  Acme Corp: top
//	  Spam Inc: avoid
type File struct {
	Policies  []types.DomainPolicy         `yaml:"policies"`
	Companies map[string]types.CompanyTier `yaml:"companies"`
}

// LoadPolicies reads and validates a policy file.
func LoadPolicies(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile parses policy YAML.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	seen := make(map[string]bool)
	for i := range f.Policies {
		p := &f.Policies[i]
		p.Domain = strings.ToLower(strings.TrimSpace(p.Domain))
		if p.Domain == "" {
			return nil, fmt.Errorf("policy %d: domain is required", i)
		}
		if seen[p.Domain] {
			return nil, fmt.Errorf("policy %d: duplicate domain %s", i, p.Domain)
		}
		seen[p.Domain] = true
		if p.MaxApplicationsPerDay != nil && *p.MaxApplicationsPerDay < 0 {
			return nil, fmt.Errorf("policy %s: max_applications_per_day must be non-negative", p.Domain)
		}
		if p.MinSecondsBetween != nil && *p.MinSecondsBetween < 0 {
			return nil, fmt.Errorf("policy %s: min_seconds_between must be non-negative", p.Domain)
		}
		if p.MaxConcurrent == 0 {
			p.MaxConcurrent = 1
		}
	}

	companies := make(map[string]types.CompanyTier, len(f.Companies))
	for name, tier := range f.Companies {
		switch tier {
		case types.CompanyTop, types.CompanyNormal, types.CompanyAvoid:
		default:
			return nil, fmt.Errorf("company %s: unknown tier %q", name, tier)
		}
		companies[strings.ToLower(strings.TrimSpace(name))] = tier
	}
	f.Companies = companies

	return &f, nil
}

// Seed upserts every policy in the file.
func (f *File) Seed(ctx context.Context, s Store) (int, error) {
	for _, p := range f.Policies {
		if err := s.UpsertPolicy(ctx, p); err != nil {
			return 0, fmt.Errorf("failed to upsert policy %s: %w", p.Domain, err)
		}
	}
	return len(f.Policies), nil
}

// CompanyTier looks up a company's tier. Unknown companies are normal.
func (f *File) CompanyTier(company string) types.CompanyTier {
	if f == nil {
		return types.CompanyNormal
	}
	if tier, ok := f.Companies[strings.ToLower(strings.TrimSpace(company))]; ok {
		return tier
	}
	return types.CompanyNormal
}
