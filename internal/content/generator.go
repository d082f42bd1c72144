// Package content generates cover letters and CV edits with the language model.
package content

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/apply-orchestrator/internal/llm"
	"github.com/jonathan/apply-orchestrator/internal/planning"
	"github.com/jonathan/apply-orchestrator/internal/prompts"
	"github.com/jonathan/apply-orchestrator/internal/schemas"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

const maxProfileChars = 3000

// UsageRecorder persists token usage for an application. AddUsage must be additive.
type UsageRecorder interface {
	AddUsage(ctx context.Context, id uuid.UUID, usage types.Usage) error
}

// Request is the input shared by every generation for one application.
type Request struct {
	ApplicationID uuid.UUID
	Job           types.JobData
	Profile       types.ProfileTruth
	Effort        types.EffortTier
}

// Result is one generated piece of content.
type Result struct {
	Kind    planning.GenerationKind
	Text    string
	CVEdits []types.CVEdit
	Usage   types.Usage
}

// Generator produces application content.
type Generator struct {
	client   llm.Client
	config   *llm.Config
	recorder UsageRecorder
}

// NewGenerator creates a generator. recorder may be nil.
func NewGenerator(client llm.Client, config *llm.Config, recorder UsageRecorder) *Generator {
	if config == nil {
		config = llm.DefaultConfig()
	}
	return &Generator{client: client, config: config, recorder: recorder}
}

// Generate produces one kind of content.
func (g *Generator) Generate(ctx context.Context, kind planning.GenerationKind, req Request) (Result, error) {
	switch kind {
	case planning.KindCoverLetter:
		return g.coverLetter(ctx, req)
	case planning.KindCVTailoring:
		return g.cvTailoring(ctx, req)
	default:
		return Result{}, &GenerationError{Kind: kind, Message: "unknown content kind"}
	}
}

// GenerateAll runs every kind concurrently. Artifacts are all-or-nothing:
// if any generation fails the error is returned and no artifacts are.
// Usage of generations that did complete is still returned and recorded.
func (g *Generator) GenerateAll(ctx context.Context, kinds []planning.GenerationKind, req Request) (types.Artifacts, types.Usage, error) {
	if len(kinds) == 0 {
		return types.Artifacts{}, types.Usage{}, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)

	var (
		mu      sync.Mutex
		results = make(map[planning.GenerationKind]Result, len(kinds))
		usage   types.Usage
	)

	for _, kind := range kinds {
		eg.Go(func() error {
			result, err := g.Generate(egCtx, kind, req)
			mu.Lock()
			defer mu.Unlock()
			usage = usage.Add(result.Usage)
			if err != nil {
				return err
			}
			results[kind] = result
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return types.Artifacts{}, usage, err
	}

	var artifacts types.Artifacts
	if r, ok := results[planning.KindCoverLetter]; ok {
		artifacts.CoverLetter = r.Text
	}
	if r, ok := results[planning.KindCVTailoring]; ok {
		artifacts.CVEdits = r.CVEdits
		artifacts.CVEditsRaw = r.Text
	}
	return artifacts, usage, nil
}

func (g *Generator) coverLetter(ctx context.Context, req Request) (Result, error) {
	kind := planning.KindCoverLetter
	template, err := prompts.Get("content.json", "cover-letter")
	if err != nil {
		return Result{}, &GenerationError{Kind: kind, Message: "prompt unavailable", Cause: err}
	}

	completion, err := g.client.Complete(ctx, prompts.Format(template, promptData(req)), tierFor(kind, req.Effort))
	if err != nil {
		return Result{}, &GenerationError{Kind: kind, Message: "model call failed", Cause: err}
	}
	result := Result{Kind: kind, Text: strings.TrimSpace(completion.Text), Usage: g.usage(completion)}
	g.record(ctx, req.ApplicationID, result.Usage)

	if result.Text == "" {
		return result, &GenerationError{Kind: kind, Message: "model returned an empty cover letter"}
	}
	log.Printf("[CONTENT] cover letter for %s: %d words", req.Job.Company, len(strings.Fields(result.Text)))
	return result, nil
}

func (g *Generator) cvTailoring(ctx context.Context, req Request) (Result, error) {
	kind := planning.KindCVTailoring
	template, err := prompts.Get("content.json", "cv-tailoring")
	if err != nil {
		return Result{}, &GenerationError{Kind: kind, Message: "prompt unavailable", Cause: err}
	}

	completion, err := g.client.CompleteJSON(ctx, prompts.Format(template, promptData(req)), tierFor(kind, req.Effort))
	if err != nil {
		return Result{}, &GenerationError{Kind: kind, Message: "model call failed", Cause: err}
	}
	result := Result{Kind: kind, Text: llm.CleanJSONBlock(completion.Text), Usage: g.usage(completion)}
	g.record(ctx, req.ApplicationID, result.Usage)

	if err := schemas.ValidateCVEdits(result.Text); err != nil {
		return result, &GenerationError{Kind: kind, Message: "CV edits do not match schema", Cause: err}
	}
	if err := json.Unmarshal([]byte(result.Text), &result.CVEdits); err != nil {
		return result, &GenerationError{Kind: kind, Message: "failed to decode CV edits", Cause: err}
	}
	log.Printf("[CONTENT] %d CV edits for %s", len(result.CVEdits), req.Job.Company)
	return result, nil
}

func (g *Generator) usage(c llm.Completion) types.Usage {
	return types.Usage{
		TokensIn:  c.TokensIn,
		TokensOut: c.TokensOut,
		CostUSD:   g.config.EstimateCost(c.Model, c.TokensIn, c.TokensOut),
	}
}

func (g *Generator) record(ctx context.Context, id uuid.UUID, usage types.Usage) {
	if g.recorder == nil || id == uuid.Nil {
		return
	}
	if err := g.recorder.AddUsage(ctx, id, usage); err != nil {
		log.Printf("[CONTENT] warning: failed to record usage for %s: %v", id, err)
	}
}

// tierFor picks the model tier. High-effort CV tailoring gets the strongest model.
func tierFor(kind planning.GenerationKind, effort types.EffortTier) llm.ModelTier {
	if effort == types.EffortHigh && kind == planning.KindCVTailoring {
		return llm.TierAdvanced
	}
	return llm.TierStandard
}

func promptData(req Request) map[string]string {
	profile := req.Profile.Summary
	if len(profile) > maxProfileChars {
		cut := maxProfileChars
		for cut > 0 && !utf8.RuneStart(profile[cut]) {
			cut--
		}
		profile = profile[:cut] + "... (truncated)"
	}
	return map[string]string{
		"Title":       req.Job.Title,
		"Company":     req.Job.Company,
		"Description": req.Job.Description,
		"KeySkills":   listOrNone(req.Job.KeySkills),
		"Profile":     profile,
		"SkillsTrue":  listOrNone(req.Profile.SkillsTrue),
		"SkillsFalse": listOrNone(req.Profile.SkillsFalse),
		"MaxYears":    strconv.Itoa(req.Profile.MaxYearsExperience),
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

