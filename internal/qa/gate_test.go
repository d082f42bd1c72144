package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

var truth = types.ProfileTruth{
	SkillsTrue:         []string{"Python", "Ray", "MLflow", "Docker"},
	SkillsFalse:        []string{"Java", "C++", "PHP"},
	MaxYearsExperience: 5,
}

func TestValidate_DisallowedSkill(t *testing.T) {
	answers := []types.FilledAnswer{
		{Label: "Programming Languages", Value: "I am proficient in Python, Java, and Docker"},
	}

	result := Validate(answers, "", truth)

	assert.Equal(t, IssuesFound, result.Decision)
	require.Len(t, result.Issues, 1)
	issue := result.Issues[0]
	assert.Equal(t, types.IssueDisallowedSkill, issue.Category)
	assert.Equal(t, "Java", issue.DetectedValue)
	assert.Equal(t, "Programming Languages", issue.Field)
}

func TestValidate_ExperienceInflation(t *testing.T) {
	answers := []types.FilledAnswer{
		{Label: "Years of Experience", Value: "I have 10 years of experience in Python"},
	}

	result := Validate(answers, "", truth)

	assert.False(t, result.Passed())
	require.Len(t, result.Issues, 1)
	assert.Equal(t, types.IssueExperienceInflation, result.Issues[0].Category)
	assert.Equal(t, "10", result.Issues[0].DetectedValue)
}

func TestValidate_CleanAnswersPass(t *testing.T) {
	answers := []types.FilledAnswer{
		{Label: "Skills", Value: "Python, Ray, MLflow"},
		{Label: "Experience", Value: "I have 5 years of experience"},
	}

	result := Validate(answers, "", truth)

	assert.Equal(t, Passed, result.Decision)
	assert.True(t, result.Passed())
	assert.Empty(t, result.Issues)
}

func TestValidate_CoverLetterPrefix(t *testing.T) {
	letter := "I am an expert in Python, Ray, and Java development with 8+ yrs in industry."

	result := Validate(nil, letter, truth)

	assert.Equal(t, IssuesFound, result.Decision)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, types.IssueCoverLetterDisallowedSkill, result.Issues[0].Category)
	assert.Equal(t, types.IssueCoverLetterExperienceInflation, result.Issues[1].Category)
	for _, issue := range result.Issues {
		assert.Equal(t, CoverLetterField, issue.Field)
	}
}

func TestValidate_WholeWordMatching(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		flags bool
	}{
		{name: "substring of longer word", text: "Built dashboards in JavaScript", flags: false},
		{name: "lowercase", text: "some java on the side", flags: true},
		{name: "symbol skill", text: "Wrote C++ extensions", flags: true},
		{name: "symbol skill at end", text: "Fluent in C++", flags: true},
		{name: "prefix of symbol skill", text: "Wrote C extensions", flags: false},
		{name: "php in word", text: "Photography and graphics", flags: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate([]types.FilledAnswer{{Label: "Notes", Value: tt.text}}, "", truth)
			assert.Equal(t, tt.flags, !result.Passed())
		})
	}
}

func TestValidate_ExperienceFormats(t *testing.T) {
	tests := map[string]bool{
		"6 years":              true,
		"6+ years":             true,
		"7yrs":                 true,
		"1 year":               false,
		"5 years":              false,
		"over 20 employees":    false,
		"Founded in 2010":      false,
		"Managed 12 YEARS ago": true,
	}
	for text, flags := range tests {
		t.Run(text, func(t *testing.T) {
			result := Validate([]types.FilledAnswer{{Value: text}}, "", truth)
			assert.Equal(t, flags, !result.Passed())
		})
	}
}

func TestValidate_NoMaxYearsSkipsExperienceCheck(t *testing.T) {
	result := Validate([]types.FilledAnswer{{Value: "30 years"}}, "", types.ProfileTruth{})
	assert.True(t, result.Passed())
}

func TestValidate_DefaultFieldLabel(t *testing.T) {
	result := Validate([]types.FilledAnswer{{Value: "PHP"}}, "", truth)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "answer", result.Issues[0].Field)
}
