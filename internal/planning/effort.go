// Package planning decides how much effort an application deserves.
// Every function in this package is pure and deterministic.
package planning

import (
	"fmt"
	"math"
	"strings"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Thresholds used by Decide. Upgrades compare with >=, downgrades with <.
const (
	SkipBelow          = 0.30
	StrongMatch        = 0.75
	TopTierHighMinimum = 0.60
	LowMatch           = 0.50
)

// Decision is the result of Decide.
type Decision = types.EffortDecision

// Decide maps a user hint, a profile match score and a company tier to an effort tier.
// Rules are evaluated in a fixed order; the first one that applies wins.
func Decide(userHint types.EffortTier, matchScore float64, companyTier types.CompanyTier) Decision {
	score := clampScore(matchScore)
	baseline := NormalizeTier(userHint)
	companyTier = NormalizeCompanyTier(companyTier)

	if companyTier == types.CompanyAvoid {
		return Decision{
			Tier:   baseline,
			Reason: "Company is on the avoid list",
			Skip:   true,
		}
	}

	if score < SkipBelow {
		return Decision{
			Tier:   baseline,
			Reason: fmt.Sprintf("Match score too low (%.2f < %.2f)", score, SkipBelow),
			Skip:   true,
		}
	}

	if score >= StrongMatch {
		return Decision{
			Tier:   upgrade(baseline),
			Reason: fmt.Sprintf("Strong match (%.2f), upgraded from %s", score, baseline),
		}
	}

	if companyTier == types.CompanyTop {
		tier := baseline
		switch baseline {
		case types.EffortLow:
			tier = types.EffortMedium
		case types.EffortMedium:
			if score >= TopTierHighMinimum {
				tier = types.EffortHigh
			}
		}
		return Decision{
			Tier:   tier,
			Reason: fmt.Sprintf("Top-tier company, effort %s -> %s (match %.2f)", baseline, tier, score),
		}
	}

	if score < LowMatch {
		return Decision{
			Tier:   downgrade(baseline),
			Reason: fmt.Sprintf("Low match (%.2f), downgraded from %s", score, baseline),
		}
	}

	return Decision{
		Tier:   baseline,
		Reason: fmt.Sprintf("User hint respected (%s, match %.2f)", baseline, score),
	}
}

// RequiresQA reports whether a task at the given tier must pass the quality gate, and which check.
func RequiresQA(tier types.EffortTier, companyTier types.CompanyTier) (bool, types.QAType) {
	if tier == types.EffortHigh {
		return true, types.QAHallucination
	}
	if tier == types.EffortMedium && NormalizeCompanyTier(companyTier) == types.CompanyTop {
		return true, types.QAConsistency
	}
	return false, types.QANone
}

// GenerationKind is one kind of generated content.
type GenerationKind string

// Generation kinds
const (
	KindCoverLetter GenerationKind = "cover_letter"
	KindCVTailoring GenerationKind = "cv_tailoring"
)

// GenerationKinds returns the content that must be generated for a tier.
// Low effort fills the form from the profile alone.
func GenerationKinds(tier types.EffortTier) []GenerationKind {
	switch tier {
	case types.EffortHigh:
		return []GenerationKind{KindCoverLetter, KindCVTailoring}
	case types.EffortMedium:
		return []GenerationKind{KindCoverLetter}
	default:
		return nil
	}
}

// NormalizeTier lowercases a hint and falls back to medium for unknown values.
func NormalizeTier(t types.EffortTier) types.EffortTier {
	switch types.EffortTier(strings.ToLower(strings.TrimSpace(string(t)))) {
	case types.EffortLow:
		return types.EffortLow
	case types.EffortHigh:
		return types.EffortHigh
	default:
		return types.EffortMedium
	}
}

// NormalizeCompanyTier lowercases a company tier and falls back to normal.
func NormalizeCompanyTier(t types.CompanyTier) types.CompanyTier {
	switch types.CompanyTier(strings.ToLower(strings.TrimSpace(string(t)))) {
	case types.CompanyTop:
		return types.CompanyTop
	case types.CompanyAvoid:
		return types.CompanyAvoid
	default:
		return types.CompanyNormal
	}
}

func upgrade(t types.EffortTier) types.EffortTier {
	switch t {
	case types.EffortLow:
		return types.EffortMedium
	default:
		return types.EffortHigh
	}
}

func downgrade(t types.EffortTier) types.EffortTier {
	switch t {
	case types.EffortHigh:
		return types.EffortMedium
	default:
		return types.EffortLow
	}
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
