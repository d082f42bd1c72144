// Package matching scores how well a candidate profile fits a job posting.
package matching

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

const (
	weightKeySkill = 1.0
	weightMention  = 0.5

	// NeutralScore is returned when a posting names no skill we can compare.
	NeutralScore = 0.5
)

// skillNormalizations maps common skill name variants to canonical names.
var skillNormalizations = map[string]string{
	"golang":     "go",
	"go lang":    "go",
	"js":         "javascript",
	"ts":         "typescript",
	"k8s":        "kubernetes",
	"react.js":   "react",
	"reactjs":    "react",
	"vue.js":     "vue",
	"vuejs":      "vue",
	"nodejs":     "node.js",
	"postgres":   "postgresql",
	"gcp":        "google cloud",
	"aws":        "amazon web services",
	"py":         "python",
	"tf":         "terraform",
	"sklearn":    "scikit-learn",
	"ml":         "machine learning",
	"c sharp":    "c#",
	"dotnet":     ".net",
}

// NormalizeSkill lowercases a skill and maps known variants to one name.
func NormalizeSkill(skill string) string {
	s := strings.ToLower(strings.Join(strings.Fields(skill), " "))
	if canonical, ok := skillNormalizations[s]; ok {
		return canonical
	}
	return s
}

// Result is a match score with the skills behind it.
type Result struct {
	Score   float64  `json:"score"`
	Matched []string `json:"matched"`
	Missing []string `json:"missing"`
}

// Score compares the posting's skills with the profile. Key skills weigh 1.0;
// profile skills (true or false) mentioned in the description weigh 0.5. The
// score is the covered weight over the total and lies in [0,1].
func Score(job types.JobData, profile types.ProfileTruth) Result {
	weights := make(map[string]float64)
	add := func(skill string, w float64) {
		if skill == "" {
			return
		}
		if w > weights[skill] {
			weights[skill] = w
		}
	}

	for _, s := range job.KeySkills {
		add(NormalizeSkill(s), weightKeySkill)
	}
	for _, s := range append(append([]string{}, profile.SkillsTrue...), profile.SkillsFalse...) {
		if Mentions(job.Description, s) {
			add(NormalizeSkill(s), weightMention)
		}
	}

	if len(weights) == 0 {
		return Result{Score: NeutralScore}
	}

	have := make(map[string]bool, len(profile.SkillsTrue))
	for _, s := range profile.SkillsTrue {
		have[NormalizeSkill(s)] = true
	}

	var covered, total float64
	res := Result{}
	for skill, w := range weights {
		total += w
		if have[skill] {
			covered += w
			res.Matched = append(res.Matched, skill)
		} else {
			res.Missing = append(res.Missing, skill)
		}
	}
	sort.Strings(res.Matched)
	sort.Strings(res.Missing)
	res.Score = covered / total
	return res
}

// Mentions reports whether text contains skill as a whole word, ignoring case.
// Known variants of the skill also count.
func Mentions(text, skill string) bool {
	skill = strings.TrimSpace(skill)
	if skill == "" || text == "" {
		return false
	}
	if wordPattern(skill).MatchString(text) {
		return true
	}
	canonical := NormalizeSkill(skill)
	for variant, c := range skillNormalizations {
		if c == canonical && wordPattern(variant).MatchString(text) {
			return true
		}
	}
	return canonical != strings.ToLower(skill) && wordPattern(canonical).MatchString(text)
}

func wordPattern(skill string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(skill) + `(?:$|[^\p{L}\p{N}])`)
}
