package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/llm"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"strategy": "single-prompt",
		"concurrency": 8,
		"database_url": "postgres://localhost/compliance",
		"chunking": {"max_chunk_size": 1500},
		"verbose": true
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, analysis.StrategySinglePrompt, cfg.Strategy)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "postgres://localhost/compliance", cfg.DatabaseURL)
	assert.Equal(t, 1500, cfg.Chunking.MaxChunkSize)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
strategy: staged
batch_size: 10
model_advanced: gemini-2.5-pro-preview
chunking:
  max_chunk_size: 1200
  chunk_overlap: 100
  preserve_headers: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, analysis.StrategyStaged, cfg.Strategy)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, "gemini-2.5-pro-preview", cfg.ModelAdvanced)
	assert.Equal(t, 1200, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)
	assert.True(t, cfg.Chunking.PreserveHeaders)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.json", `{ invalid json }`))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.yml", "strategy: [unclosed"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Defaults(), ""},
		{"unknown strategy", Config{Strategy: "parallel"}, "strategy"},
		{"negative concurrency", Config{Concurrency: -1}, "concurrency"},
		{"negative batch size", Config{BatchSize: -1}, "batch_size"},
		{"negative timeout", Config{CallTimeoutSeconds: -5}, "call_timeout_seconds"},
		{"negative attempts", Config{MaxAttempts: -1}, "max_attempts"},
		{"missing storage root", Config{StorageRoot: "/nonexistent/storage"}, "storage root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_StorageRootDirectory(t *testing.T) {
	cfg := Config{StorageRoot: t.TempDir()}
	assert.NoError(t, cfg.Validate())

	cfg.StorageRoot = writeFile(t, "file.txt", "x")
	assert.Error(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	defaults := Defaults()
	partial := Config{
		Strategy:    analysis.StrategySinglePrompt,
		Concurrency: 2,
		APIKey:      "file-key",
	}

	merged := partial.MergeWithDefaults(defaults)

	// Custom values should be preserved
	assert.Equal(t, analysis.StrategySinglePrompt, merged.Strategy)
	assert.Equal(t, 2, merged.Concurrency)
	assert.Equal(t, "file-key", merged.APIKey)

	// Default values should fill in empty fields
	assert.Equal(t, 25, merged.BatchSize)
	assert.Equal(t, 45, merged.CallTimeoutSeconds)
	assert.Equal(t, 3, merged.MaxAttempts)
	assert.Equal(t, "documents", merged.DefaultBucket)
	assert.Equal(t, defaults.Chunking, merged.Chunking)
}

func TestMergeWithDefaults_PartialChunking(t *testing.T) {
	cfg := Config{}
	cfg.Chunking.MaxChunkSize = 1000

	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, 1000, merged.Chunking.MaxChunkSize)
	assert.Equal(t, 200, merged.Chunking.MinChunkSize)
	assert.Equal(t, 200, merged.Chunking.ChunkOverlap)
	assert.False(t, merged.Chunking.PreserveHeaders)
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := Config{Strategy: analysis.StrategyStaged, Concurrency: 3}

	merged := cfg.MergeWithDefaults(Config{})

	assert.Equal(t, analysis.StrategyStaged, merged.Strategy)
	assert.Equal(t, 3, merged.Concurrency)
	assert.Empty(t, merged.APIKey)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeFile(t, "config.json", `{"api_key": "from-file", "batch_size": 5}`)
	env := envMap(map[string]string{
		EnvAPIKey:      "from-env",
		EnvDatabaseURL: "postgres://env/db",
	})

	cfg, err := Resolve(path, env)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, analysis.StrategyStaged, cfg.Strategy)
}

func TestResolve_NoFile(t *testing.T) {
	cfg, err := Resolve("", envMap(map[string]string{EnvAPIKey: "from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, Defaults().Concurrency, cfg.Concurrency)
}

func TestResolve_InvalidFileValue(t *testing.T) {
	path := writeFile(t, "config.json", `{"strategy": "bogus"}`)
	_, err := Resolve(path, envMap(nil))
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg := Defaults()
	cfg.ModelStandard = "custom-flash"
	cfg.CallTimeoutSeconds = 10
	cfg.MaxAttempts = 5
	cfg.DefaultBucket = "uploads"

	a := cfg.AnalysisConfig()
	assert.Equal(t, cfg.Strategy, a.Strategy)
	assert.Equal(t, "uploads", a.DefaultBucket)
	assert.Equal(t, cfg.Chunking, a.Chunking)

	m := cfg.LLMConfig()
	assert.Equal(t, "custom-flash", m.GetModel(llm.TierStandard))
	assert.Equal(t, cfg.ModelLite, m.GetModel(llm.TierLite))

	r := cfg.ResilienceConfig()
	assert.Equal(t, 10*time.Second, r.CallTimeout)
	assert.Equal(t, 5, r.MaxAttempts)
}
