package planning

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

func TestDecide_StrongMatchUpgrades(t *testing.T) {
	d := Decide(types.EffortLow, 0.80, types.CompanyNormal)

	assert.Equal(t, types.EffortMedium, d.Tier)
	assert.Contains(t, d.Reason, "match")
	assert.False(t, d.Skip)
}

func TestDecide_TopTierUpgradesToHigh(t *testing.T) {
	d := Decide(types.EffortMedium, 0.70, types.CompanyTop)

	assert.Equal(t, types.EffortHigh, d.Tier)
	assert.False(t, d.Skip)
	assert.Contains(t, strings.ToLower(d.Reason), "top")
}

func TestDecide_TopTierMediumNeedsScoreForHigh(t *testing.T) {
	d := Decide(types.EffortMedium, 0.55, types.CompanyTop)

	assert.Equal(t, types.EffortMedium, d.Tier)
	assert.False(t, d.Skip)
}

func TestDecide_TopTierLowUpgradesToMedium(t *testing.T) {
	d := Decide(types.EffortLow, 0.65, types.CompanyTop)

	assert.Equal(t, types.EffortMedium, d.Tier)
	assert.Contains(t, strings.ToLower(d.Reason), "top")
}

func TestDecide_AvoidCompanySkips(t *testing.T) {
	d := Decide(types.EffortMedium, 0.70, types.CompanyAvoid)

	assert.True(t, d.Skip)
	assert.Contains(t, strings.ToLower(d.Reason), "avoid")
}

func TestDecide_VeryLowMatchSkips(t *testing.T) {
	d := Decide(types.EffortMedium, 0.25, types.CompanyNormal)

	assert.True(t, d.Skip)
	assert.Contains(t, strings.ToLower(d.Reason), "too low")
}

func TestDecide_VeryLowMatchSkipsRegardlessOfHint(t *testing.T) {
	d := Decide(types.EffortHigh, 0.25, types.CompanyNormal)

	assert.True(t, d.Skip)
}

func TestDecide_LowMatchDowngrades(t *testing.T) {
	d := Decide(types.EffortMedium, 0.40, types.CompanyNormal)

	assert.Equal(t, types.EffortLow, d.Tier)
	assert.Contains(t, d.Reason, "Low match")
	assert.False(t, d.Skip)
}

func TestDecide_HintRespected(t *testing.T) {
	d := Decide(types.EffortMedium, 0.65, types.CompanyNormal)

	assert.Equal(t, types.EffortMedium, d.Tier)
	assert.Contains(t, d.Reason, "hint")
	assert.False(t, d.Skip)
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		hint  types.EffortTier
		score float64
		tier  types.CompanyTier
		want  types.EffortTier
		skip  bool
	}{
		{"exactly strong match upgrades", types.EffortLow, 0.75, types.CompanyNormal, types.EffortMedium, false},
		{"just below strong match keeps", types.EffortLow, 0.7499, types.CompanyNormal, types.EffortLow, false},
		{"exactly low match does not downgrade", types.EffortMedium, 0.50, types.CompanyNormal, types.EffortMedium, false},
		{"exactly skip threshold proceeds", types.EffortMedium, 0.30, types.CompanyNormal, types.EffortLow, false},
		{"exactly top tier minimum upgrades to high", types.EffortMedium, 0.60, types.CompanyTop, types.EffortHigh, false},
		{"high stays high on strong match", types.EffortHigh, 0.90, types.CompanyNormal, types.EffortHigh, false},
		{"low stays low on low match", types.EffortLow, 0.35, types.CompanyNormal, types.EffortLow, false},
		{"high on top tier stays high", types.EffortHigh, 0.55, types.CompanyTop, types.EffortHigh, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.hint, tt.score, tt.tier)
			assert.Equal(t, tt.want, d.Tier)
			assert.Equal(t, tt.skip, d.Skip)
		})
	}
}

func TestDecide_TotalAndDeterministic(t *testing.T) {
	hints := []types.EffortTier{types.EffortLow, types.EffortMedium, types.EffortHigh, "", "HIGH", "bogus"}
	tiers := []types.CompanyTier{types.CompanyTop, types.CompanyNormal, types.CompanyAvoid, "", "Top"}
	valid := map[types.EffortTier]bool{types.EffortLow: true, types.EffortMedium: true, types.EffortHigh: true}

	for _, hint := range hints {
		for _, tier := range tiers {
			for i := 0; i <= 100; i++ {
				score := float64(i) / 100
				first := Decide(hint, score, tier)
				second := Decide(hint, score, tier)
				assert.Equal(t, first, second)
				assert.True(t, valid[first.Tier], "tier %q out of range", first.Tier)
				assert.NotEmpty(t, first.Reason)
			}
		}
	}
}

func TestDecide_OutOfRangeScores(t *testing.T) {
	assert.True(t, Decide(types.EffortHigh, math.NaN(), types.CompanyNormal).Skip)
	assert.True(t, Decide(types.EffortHigh, -1, types.CompanyNormal).Skip)
	assert.Equal(t, types.EffortHigh, Decide(types.EffortMedium, 7, types.CompanyNormal).Tier)
}

func TestRequiresQA(t *testing.T) {
	tests := []struct {
		tier    types.EffortTier
		company types.CompanyTier
		want    bool
		qaType  types.QAType
	}{
		{types.EffortHigh, types.CompanyNormal, true, types.QAHallucination},
		{types.EffortHigh, types.CompanyTop, true, types.QAHallucination},
		{types.EffortMedium, types.CompanyTop, true, types.QAConsistency},
		{types.EffortMedium, types.CompanyNormal, false, types.QANone},
		{types.EffortLow, types.CompanyNormal, false, types.QANone},
		{types.EffortLow, types.CompanyTop, false, types.QANone},
	}

	for _, tt := range tests {
		got, qaType := RequiresQA(tt.tier, tt.company)
		assert.Equal(t, tt.want, got, "%s/%s", tt.tier, tt.company)
		assert.Equal(t, tt.qaType, qaType, "%s/%s", tt.tier, tt.company)
	}
}

func TestGenerationKinds(t *testing.T) {
	assert.Empty(t, GenerationKinds(types.EffortLow))
	assert.Equal(t, []GenerationKind{KindCoverLetter}, GenerationKinds(types.EffortMedium))
	assert.Equal(t, []GenerationKind{KindCoverLetter, KindCVTailoring}, GenerationKinds(types.EffortHigh))
}
