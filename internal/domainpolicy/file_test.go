package domainpolicy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

const samplePolicies = `
policies:
  - domain: LinkedIn.com
    max_applications_per_day: 20
    min_seconds_between: 300
  - domain: spam.example
    avoid: true
    notes: Recruiter spam site
companies:
  Acme Corp: top
  Spam Inc: avoid
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(samplePolicies))
	require.NoError(t, err)
	require.Len(t, f.Policies, 2)

	assert.Equal(t, "linkedin.com", f.Policies[0].Domain)
	assert.Equal(t, 20, *f.Policies[0].MaxApplicationsPerDay)
	assert.Equal(t, 300, *f.Policies[0].MinSecondsBetween)
	assert.Equal(t, 1, f.Policies[0].MaxConcurrent, "max_concurrent defaults to 1")
	assert.True(t, f.Policies[1].Avoid)

	assert.Equal(t, types.CompanyTop, f.CompanyTier("acme corp"))
	assert.Equal(t, types.CompanyAvoid, f.CompanyTier("Spam Inc"))
	assert.Equal(t, types.CompanyNormal, f.CompanyTier("Unknown LLC"))
}

func TestParseFile_Errors(t *testing.T) {
	tests := map[string]string{
		"missing domain":   "policies:\n  - max_concurrent: 1\n",
		"duplicate domain": "policies:\n  - domain: a.com\n  - domain: A.com\n",
		"negative cap":     "policies:\n  - domain: a.com\n    max_applications_per_day: -1\n",
		"bad tier":         "companies:\n  Acme: legendary\n",
		"bad yaml":         "policies: [",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicies), 0o600))

	f, err := LoadPolicies(path)
	require.NoError(t, err)

	m := store.NewMemory()
	n, err := f.Seed(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := m.GetPolicy(context.Background(), "linkedin.com")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 20, *p.MaxApplicationsPerDay)
}

func TestNilFileCompanyTier(t *testing.T) {
	var f *File
	assert.Equal(t, types.CompanyNormal, f.CompanyTier("Acme"))
}
