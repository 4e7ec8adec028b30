// Package config provides configuration loading and validation for the CLI
// and the HTTP server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/llm"
)

// Environment variables read by FromEnv.
const (
	EnvAPIKey      = "GEMINI_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
	EnvStorageRoot = "STORAGE_ROOT"
)

// Config represents the configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Connections
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`               // Gemini API key
	DatabaseURL   string `json:"database_url,omitempty" yaml:"database_url,omitempty"`     // PostgreSQL connection URL
	StorageRoot   string `json:"storage_root,omitempty" yaml:"storage_root,omitempty"`     // Directory holding raw files as <bucket>/<path>
	DefaultBucket string `json:"default_bucket,omitempty" yaml:"default_bucket,omitempty"` // Bucket used when a document names none
	Addr          string `json:"addr,omitempty" yaml:"addr,omitempty"`                     // HTTP listen address

	// Analysis
	Strategy    string `json:"strategy,omitempty" yaml:"strategy,omitempty"`       // staged or single-prompt
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"` // Parallel model calls
	BatchSize   int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`   // Requirements per compliance prompt

	// Model gateway
	ModelLite          string `json:"model_lite,omitempty" yaml:"model_lite,omitempty"`
	ModelStandard      string `json:"model_standard,omitempty" yaml:"model_standard,omitempty"`
	ModelAdvanced      string `json:"model_advanced,omitempty" yaml:"model_advanced,omitempty"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds,omitempty" yaml:"call_timeout_seconds,omitempty"` // Per-call budget
	MaxAttempts        int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`                 // Attempts per model call

	Chunking chunking.Options `json:"chunking,omitempty" yaml:"chunking,omitempty"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"` // Print detailed debug information
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	a := analysis.DefaultConfig()
	r := llm.DefaultResilienceConfig()
	m := llm.DefaultConfig()
	return Config{
		DefaultBucket:      "documents",
		Addr:               ":8080",
		Strategy:           a.Strategy,
		Concurrency:        a.Concurrency,
		BatchSize:          a.BatchSize,
		ModelLite:          m.GetModel(llm.TierLite),
		ModelStandard:      m.GetModel(llm.TierStandard),
		ModelAdvanced:      m.GetModel(llm.TierAdvanced),
		CallTimeoutSeconds: int(r.CallTimeout / time.Second),
		MaxAttempts:        r.MaxAttempts,
		Chunking:           a.Chunking,
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// FromEnv reads the connection settings from the environment.
func FromEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Config{
		APIKey:      getenv(EnvAPIKey),
		DatabaseURL: getenv(EnvDatabaseURL),
		StorageRoot: getenv(EnvStorageRoot),
	}
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by the commands that need them.
func (c *Config) Validate() error {
	switch c.Strategy {
	case "", analysis.StrategyStaged, analysis.StrategySinglePrompt:
	default:
		return fmt.Errorf("config error: 'strategy' must be %q or %q, got %q",
			analysis.StrategyStaged, analysis.StrategySinglePrompt, c.Strategy)
	}

	// Validate numeric ranges
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("config error: 'batch_size' must be non-negative")
	}
	if c.CallTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'call_timeout_seconds' must be non-negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("config error: 'max_attempts' must be non-negative")
	}
	if c.Chunking.MaxChunkSize < 0 || c.Chunking.MinChunkSize < 0 || c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("config error: 'chunking' sizes must be non-negative")
	}

	// Validate paths exist (if specified)
	if c.StorageRoot != "" {
		info, err := os.Stat(c.StorageRoot)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("config error: storage root is not a directory: %s", c.StorageRoot)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to layer config file values over the environment and built-in defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.StorageRoot == "" {
		result.StorageRoot = defaults.StorageRoot
	}
	if result.DefaultBucket == "" {
		result.DefaultBucket = defaults.DefaultBucket
	}
	if result.Addr == "" {
		result.Addr = defaults.Addr
	}
	if result.Strategy == "" {
		result.Strategy = defaults.Strategy
	}
	if result.ModelLite == "" {
		result.ModelLite = defaults.ModelLite
	}
	if result.ModelStandard == "" {
		result.ModelStandard = defaults.ModelStandard
	}
	if result.ModelAdvanced == "" {
		result.ModelAdvanced = defaults.ModelAdvanced
	}

	// Int fields: use default if zero
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.BatchSize == 0 {
		result.BatchSize = defaults.BatchSize
	}
	if result.CallTimeoutSeconds == 0 {
		result.CallTimeoutSeconds = defaults.CallTimeoutSeconds
	}
	if result.MaxAttempts == 0 {
		result.MaxAttempts = defaults.MaxAttempts
	}

	// An absent chunking block takes the defaults whole, header preservation included.
	if result.Chunking == (chunking.Options{}) {
		result.Chunking = defaults.Chunking
	}
	if result.Chunking.MaxChunkSize == 0 {
		result.Chunking.MaxChunkSize = defaults.Chunking.MaxChunkSize
	}
	if result.Chunking.MinChunkSize == 0 {
		result.Chunking.MinChunkSize = defaults.Chunking.MinChunkSize
	}
	if result.Chunking.ChunkOverlap == 0 {
		result.Chunking.ChunkOverlap = defaults.Chunking.ChunkOverlap
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// Resolve layers a config file (optional), the environment and the defaults.
func Resolve(path string, getenv func(string) string) (Config, error) {
	var file Config
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		file = *loaded
	}
	env := FromEnv(getenv)
	withEnv := env.MergeWithDefaults(Defaults())
	cfg := file.MergeWithDefaults(withEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AnalysisConfig converts the settings used by the orchestrator.
func (c *Config) AnalysisConfig() analysis.Config {
	return analysis.Config{
		Strategy:      c.Strategy,
		Concurrency:   c.Concurrency,
		BatchSize:     c.BatchSize,
		DefaultBucket: c.DefaultBucket,
		Chunking:      c.Chunking,
	}
}

// LLMConfig converts the model names per tier.
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Models[llm.TierLite] = c.ModelLite
	cfg.Models[llm.TierStandard] = c.ModelStandard
	cfg.Models[llm.TierAdvanced] = c.ModelAdvanced
	return cfg
}

// ResilienceConfig converts the per-call timeout and retry settings.
func (c *Config) ResilienceConfig() llm.ResilienceConfig {
	r := llm.DefaultResilienceConfig()
	r.CallTimeout = time.Duration(c.CallTimeoutSeconds) * time.Second
	r.MaxAttempts = c.MaxAttempts
	return r
}
