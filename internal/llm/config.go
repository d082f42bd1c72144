// Package llm wraps the language model used for content generation.
package llm

// ModelTier selects a model by capability.
type ModelTier string

const (
	// TierLite is for short, cheap completions.
	TierLite ModelTier = "lite"
	// TierStandard is the default for cover letters.
	TierStandard ModelTier = "standard"
	// TierAdvanced is for high-effort tailoring.
	TierAdvanced ModelTier = "advanced"
)

// Provider names an LLM provider.
type Provider string

// ProviderGemini is the only supported provider.
const ProviderGemini Provider = "gemini"

// Price is the USD cost per million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Config holds the model configuration.
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Prices      map[string]Price
	Temperature float32
}

// DefaultConfig returns the default Gemini configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Prices: map[string]Price{
			"gemini-2.5-flash-lite": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"gemini-2.5-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50},
			"gemini-2.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.00},
		},
		Temperature: 0.4,
	}
}

// GetModel returns the model name for a tier, falling back to standard then lite.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a copy of the config using model for tier.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := &Config{
		Provider:    c.Provider,
		Models:      make(map[ModelTier]string, len(c.Models)+1),
		Prices:      c.Prices,
		Temperature: c.Temperature,
	}
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return next
}

// EstimateCost prices a completion. Models without a price entry cost zero.
func (c *Config) EstimateCost(model string, tokensIn, tokensOut int) float64 {
	price, ok := c.Prices[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1e6*price.InputPerMillion + float64(tokensOut)/1e6*price.OutputPerMillion
}
