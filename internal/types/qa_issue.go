package types

// QAIssueCategory classifies a quality gate finding.
type QAIssueCategory string

// QA issue categories. Cover letter findings carry the cover_letter_ prefix.
const (
	IssueDisallowedSkill                QAIssueCategory = "disallowed_skill"
	IssueExperienceInflation            QAIssueCategory = "experience_inflation"
	IssueCoverLetterDisallowedSkill     QAIssueCategory = "cover_letter_disallowed_skill"
	IssueCoverLetterExperienceInflation QAIssueCategory = "cover_letter_experience_inflation"
)

// QAIssue is a mismatch between generated content and the profile truth.
type QAIssue struct {
	Category           QAIssueCategory `json:"category"`
	Severity           string          `json:"severity"`
	Field              string          `json:"field"`
	DetectedValue      string          `json:"detected_value"`
	ExpectedConstraint string          `json:"expected_constraint"`
}

// QAType names the kind of review an effort tier requires.
type QAType string

// QA types
const (
	QANone          QAType = ""
	QAHallucination QAType = "hallucination_check"
	QAConsistency   QAType = "consistency_check"
)
