package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"bare fence", "```\n[1, 2]\n```", `[1, 2]`},
		{"language tag", "```javascript\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"plain", `{"key": "value"}`, `{"key": "value"}`},
		{"preamble", "Here are the edits:\n[{\"section\": \"Summary\"}]", `[{"section": "Summary"}]`},
		{"trailing text", "{\"a\": 1}\n\nLet me know!", `{"a": 1}`},
		{"nested", "Output: {\"outer\": {\"inner\": 1}}", `{"outer": {"inner": 1}}`},
		{"no json", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}
