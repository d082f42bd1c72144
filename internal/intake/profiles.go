package intake

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

// ProfileSet maps profile references to candidate profiles. Example:
//
//	default:
//	  summary: Backend engineer, 6 years of Go and Postgres.
//	  skills_true: [Go, PostgreSQL, Docker]
//	  skills_false: [Rust, Kubernetes]
//	  max_years_experience: 6
type ProfileSet map[string]types.ProfileTruth

// UnknownProfileError is returned for a reference not in the set.
type UnknownProfileError struct {
	Ref string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown profile: %s", e.Ref)
}

// LoadProfiles reads a profile file.
func LoadProfiles(path string) (ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file %s: %w", path, err)
	}
	return ParseProfiles(data)
}

// ParseProfiles parses profile YAML. Every profile needs at least one true skill.
func ParseProfiles(data []byte) (ProfileSet, error) {
	var raw map[string]types.ProfileTruth
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	set := make(ProfileSet, len(raw))
	for ref, p := range raw {
		ref = strings.TrimSpace(ref)
		if len(p.SkillsTrue) == 0 {
			return nil, fmt.Errorf("profile %s: skills_true is empty", ref)
		}
		if p.MaxYearsExperience < 0 {
			return nil, fmt.Errorf("profile %s: max_years_experience must be non-negative", ref)
		}
		set[ref] = p
	}
	return set, nil
}

// Profile returns the profile for ref, or the default profile when ref is empty.
func (s ProfileSet) Profile(ref string) (types.ProfileTruth, error) {
	if ref == "" {
		ref = DefaultProfile
	}
	p, ok := s[ref]
	if !ok {
		return types.ProfileTruth{}, &UnknownProfileError{Ref: ref}
	}
	return p, nil
}

// Refs lists the profile references in order.
func (s ProfileSet) Refs() []string {
	refs := make([]string, 0, len(s))
	for ref := range s {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
