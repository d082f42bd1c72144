// Package qa checks filled answers and cover letters against the candidate's profile truth.
package qa

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// Decision is the verdict of a quality gate run.
type Decision string

// Decisions
const (
	Passed      Decision = "passed"
	IssuesFound Decision = "issues_found"
)

// CoverLetterField is the field reference used for cover letter findings.
const CoverLetterField = "cover_letter"

const severityError = "error"

// yearsPattern matches experience claims such as "10 years", "7+ yrs" or "3 year".
var yearsPattern = regexp.MustCompile(`(?i)\b(\d+)\+?\s*(?:years?|yrs?)\b`)

// Result is the outcome of Validate.
type Result struct {
	Decision Decision        `json:"decision"`
	Issues   []types.QAIssue `json:"issues"`
}

// Passed reports whether the content can be held for submission.
func (r Result) Passed() bool {
	return r.Decision == Passed
}

// Validate scans answers and the cover letter for disallowed skills and inflated
// experience. It matches text literally; paraphrased claims are not detected.
func Validate(answers []types.FilledAnswer, coverLetter string, truth types.ProfileTruth) Result {
	skills := compileSkills(truth.SkillsFalse)

	var issues []types.QAIssue
	for _, answer := range answers {
		field := answer.Label
		if field == "" {
			field = "answer"
		}
		issues = append(issues, scan(answer.Value, field, "", skills, truth.MaxYearsExperience)...)
	}
	if strings.TrimSpace(coverLetter) != "" {
		issues = append(issues, scan(coverLetter, CoverLetterField, "cover_letter_", skills, truth.MaxYearsExperience)...)
	}

	if len(issues) > 0 {
		return Result{Decision: IssuesFound, Issues: issues}
	}
	return Result{Decision: Passed, Issues: []types.QAIssue{}}
}

type skillMatcher struct {
	skill string
	re    *regexp.Regexp
}

// compileSkills builds whole-word, case-insensitive matchers. Word boundaries are
// letters and digits only, so skills such as "C++" and "C#" match too.
func compileSkills(skills []string) []skillMatcher {
	matchers := make([]skillMatcher, 0, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		pattern := `(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(skill) + `(?:$|[^\p{L}\p{N}])`
		matchers = append(matchers, skillMatcher{skill: skill, re: regexp.MustCompile(pattern)})
	}
	return matchers
}

func scan(text, field, prefix string, skills []skillMatcher, maxYears int) []types.QAIssue {
	var issues []types.QAIssue

	for _, m := range skills {
		if m.re.MatchString(text) {
			issues = append(issues, types.QAIssue{
				Category:           types.QAIssueCategory(prefix + string(types.IssueDisallowedSkill)),
				Severity:           severityError,
				Field:              field,
				DetectedValue:      m.skill,
				ExpectedConstraint: fmt.Sprintf("%s is not in the candidate's skill set", m.skill),
			})
		}
	}

	if maxYears <= 0 {
		return issues
	}
	for _, match := range yearsPattern.FindAllStringSubmatch(text, -1) {
		years, err := strconv.Atoi(match[1])
		if err != nil || years <= maxYears {
			continue
		}
		issues = append(issues, types.QAIssue{
			Category:           types.QAIssueCategory(prefix + string(types.IssueExperienceInflation)),
			Severity:           severityError,
			Field:              field,
			DetectedValue:      strconv.Itoa(years),
			ExpectedConstraint: fmt.Sprintf("at most %d years of experience", maxYears),
		})
	}
	return issues
}
