// Package llm is the single gateway to the generative model: provider
// configuration, request parameters, error classification, resilience and
// the shared parser for JSON-shaped model output.
package llm

import "time"

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: grouping, short classification
	TierLite ModelTier = "lite"
	// TierStandard is for structured extraction and compliance checks
	TierStandard ModelTier = "standard"
	// TierAdvanced is for judgement-heavy tasks such as quality evaluation
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		Models:   make(map[ModelTier]string, len(c.Models)+1),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}

// GenerationParams are the sampling parameters of one call. Zero values leave
// the provider default in place.
type GenerationParams struct {
	Temperature     *float32
	MaxOutputTokens int32
	TopK            int32
	TopP            float32
}

// FactualParams are used for extraction and checking prompts: near-deterministic output.
func FactualParams() GenerationParams {
	t := float32(0.1)
	return GenerationParams{Temperature: &t, MaxOutputTokens: 8192, TopK: 1, TopP: 0.8}
}

// CreativeParams are used for explanatory prompts.
func CreativeParams() GenerationParams {
	t := float32(0.7)
	return GenerationParams{Temperature: &t, MaxOutputTokens: 2048, TopK: 40, TopP: 0.95}
}

// ResilienceConfig controls the timeout and retry policy around each call.
type ResilienceConfig struct {
	CallTimeout  time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultResilienceConfig returns the policy used by the CLI and server.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		CallTimeout:  45 * time.Second,
		MaxAttempts:  3,
		InitialDelay: time.Second,
	}
}
