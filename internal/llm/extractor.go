package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
// It provides a reusable way to define what information to extract from text.
type ExtractionSchema struct {
	Name        string        // Schema name (e.g., "KeySkills")
	Description string        // System prompt preamble describing the extraction task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[]string", "map[string]string"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	// System description
	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	// Output schema
	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	// Instructions
	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Extract information directly from the text, do not invent or summarize.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	// Input text
	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// KeySkillsSchema extracts the skills a job posting asks for.
func KeySkillsSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "KeySkills",
		Description: `You are an expert job posting parser.
Your task is to list the concrete skills a candidate needs for this role: languages, frameworks,
databases, platforms, tools and named methodologies.
EXCLUDE: soft skills, years of experience, degrees, benefits, EEO statements, application form fields.`,
		Fields: []SchemaField{
			{
				Name:        "key_skills",
				Type:        "[\"string\"]",
				Description: "Each skill as a short name (e.g. \"Go\", \"PostgreSQL\", \"Kubernetes\"), most important first",
				Required:    true,
			},
		},
	}
}

// MaxExtractedSkills bounds the skills kept from one posting.
const MaxExtractedSkills = 25

// SkillExtractor pulls key skills out of job descriptions with the lite model.
type SkillExtractor struct {
	client Client
}

// NewSkillExtractor creates an extractor.
func NewSkillExtractor(client Client) *SkillExtractor {
	return &SkillExtractor{client: client}
}

// ExtractSkills returns the posting's key skills, deduplicated case-insensitively.
func (e *SkillExtractor) ExtractSkills(ctx context.Context, description string) ([]string, error) {
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}
	completion, err := e.client.CompleteJSON(ctx, BuildExtractionPrompt(KeySkillsSchema(), description), TierLite)
	if err != nil {
		return nil, fmt.Errorf("failed to extract key skills: %w", err)
	}
	return parseKeySkills(completion.Text)
}

func parseKeySkills(text string) ([]string, error) {
	var out struct {
		KeySkills []string `json:"key_skills"`
	}
	if err := json.Unmarshal([]byte(CleanJSONBlock(text)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse key skills: %w", err)
	}

	seen := make(map[string]bool, len(out.KeySkills))
	skills := make([]string, 0, len(out.KeySkills))
	for _, s := range out.KeySkills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		skills = append(skills, s)
		if len(skills) == MaxExtractedSkills {
			break
		}
	}
	return skills, nil
}
