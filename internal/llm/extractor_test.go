package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	text   string
	err    error
	prompt string
	tier   ModelTier
}

func (s *stubClient) Complete(ctx context.Context, prompt string, tier ModelTier) (Completion, error) {
	return s.CompleteJSON(ctx, prompt, tier)
}

func (s *stubClient) CompleteJSON(_ context.Context, prompt string, tier ModelTier) (Completion, error) {
	s.prompt = prompt
	s.tier = tier
	return Completion{Text: s.text}, s.err
}

func (s *stubClient) Close() error { return nil }

func TestBuildExtractionPrompt(t *testing.T) {
	prompt := BuildExtractionPrompt(KeySkillsSchema(), "We use Go and PostgreSQL.")

	assert.Contains(t, prompt, "expert job posting parser")
	assert.Contains(t, prompt, `"key_skills": ["string"] (required)`)
	assert.Contains(t, prompt, "Return ONLY the JSON object")
	assert.Contains(t, prompt, "\"\"\"\nWe use Go and PostgreSQL.\n\"\"\"")
}

func TestExtractSkills(t *testing.T) {
	client := &stubClient{text: "```json\n{\"key_skills\": [\"Go\", \" PostgreSQL \", \"go\", \"\", \"Kubernetes\"]}\n```"}
	e := NewSkillExtractor(client)

	skills, err := e.ExtractSkills(context.Background(), "We use Go, PostgreSQL and Kubernetes.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "PostgreSQL", "Kubernetes"}, skills)
	assert.Equal(t, TierLite, client.tier)
}

func TestExtractSkills_Bounded(t *testing.T) {
	text := `{"key_skills": [`
	for i := 0; i < MaxExtractedSkills+5; i++ {
		if i > 0 {
			text += ","
		}
		text += `"skill` + string(rune('a'+i)) + `"`
	}
	text += `]}`

	skills, err := NewSkillExtractor(&stubClient{text: text}).ExtractSkills(context.Background(), "posting")
	require.NoError(t, err)
	assert.Len(t, skills, MaxExtractedSkills)
}

func TestExtractSkills_Errors(t *testing.T) {
	_, err := NewSkillExtractor(&stubClient{err: errors.New("quota")}).ExtractSkills(context.Background(), "posting")
	assert.ErrorContains(t, err, "failed to extract key skills")

	_, err = NewSkillExtractor(&stubClient{text: "not json"}).ExtractSkills(context.Background(), "posting")
	assert.ErrorContains(t, err, "failed to parse key skills")

	client := &stubClient{}
	skills, err := NewSkillExtractor(client).ExtractSkills(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, skills)
	assert.Empty(t, client.prompt, "blank descriptions are not sent")
}
