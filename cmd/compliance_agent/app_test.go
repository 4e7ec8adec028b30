package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/config"
	"github.com/jonathan/plan-compliance/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDocument(t *testing.T) {
	data := []byte("# Site Emergency Plan\n\n## Evacuation\n\nRoutes are posted on every floor.\n")

	doc, chunks, err := buildDocument(data, "plans/site.md", types.DocumentTypePlan, "", chunking.DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, doc.ID, 12)
	assert.Equal(t, types.DocumentTypePlan, doc.Type)
	assert.Equal(t, "Site Emergency Plan", doc.Title)
	assert.Equal(t, "site.md", doc.Metadata["filename"])
	assert.Equal(t, "markdown", doc.Metadata["format"])
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Routes are posted")

	again, _, err := buildDocument(data, "copy.md", types.DocumentTypeReference, "", chunking.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID, "ID depends on content only")

	named, _, err := buildDocument(data, "site.md", types.DocumentTypePlan, "plan-1", chunking.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "plan-1", named.ID)
}

func TestBuildDocument_InvalidType(t *testing.T) {
	_, _, err := buildDocument([]byte("text"), "a.txt", "memo", "", chunking.DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid document type")
}

func TestChunkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "standard.md")
	content := "# Standard\n\n## Scope\n\n" + repeatSentence("Scope applies to all sites. ", 20) +
		"\n\n## Duties\n\n" + repeatSentence("Wardens sweep each floor. ", 20) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	chunks, err := chunkFile(path, chunking.Options{MaxChunkSize: 400, ChunkOverlap: 0, PreserveHeaders: true})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, []string{"Standard", "Duties"}, chunks[len(chunks)-1].Headers)

	_, err = chunkFile(filepath.Join(dir, "missing.md"), chunking.DefaultOptions())
	assert.Error(t, err)
}

func repeatSentence(s string, n int) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString(s)
	}
	return buf.String()
}

func TestWriteOutput(t *testing.T) {
	result := &types.ReconcileResult{SectionsProcessed: 2, MappingsFound: 1}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "", result))
	assert.JSONEq(t, `{"sections_processed":2,"mappings_found":1}`, buf.String())

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeOutput(&buf, path, result))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded types.ReconcileResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *result, decoded)
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	report := &types.AnalysisReport{
		ID:                     "rep-1",
		PlanID:                 "plan-1",
		ReferenceDocumentIDs:   []string{"std-a"},
		OverallComplianceScore: 60,
		OverallQualityScore:    67,
		SectionScores: map[string]types.SectionScore{
			"Evacuation": {Compliance: 60, Quality: 67, RequirementsTotal: 5, RequirementsPresent: 3},
		},
		MissingRequirements: []types.MissingRequirement{
			{RequirementID: "r4", Text: "Conduct drills.", Section: "Training", Importance: types.ImportanceCritical},
		},
		ImprovementSuggestions: []types.ImprovementSuggestion{},
		AnalyzedAt:             time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	path := filepath.Join(dir, "report.json")
	require.NoError(t, writeReportFile(path, report))
	_, err := os.Stat(path)
	require.NoError(t, err)

	report.OverallComplianceScore = 150
	err = writeReportFile(filepath.Join(dir, "bad.json"), report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report schema")
}

func TestNewLLMClient_RequiresAPIKey(t *testing.T) {
	cfg := config.Defaults()
	_, err := newLLMClient(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvAPIKey)
}

func TestConnectDB_RequiresURL(t *testing.T) {
	_, err := connectDB(context.Background(), config.Defaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvDatabaseURL)
}

func TestOpenFileStore(t *testing.T) {
	files, err := openFileStore(config.Defaults())
	require.NoError(t, err)
	assert.Nil(t, files)

	cfg := config.Defaults()
	cfg.StorageRoot = t.TempDir()
	files, err = openFileStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, files)
	assert.Equal(t, cfg.StorageRoot, files.Root())
}

func TestChunkCommand_JSON(t *testing.T) {
	t.Setenv(config.EnvStorageRoot, "")
	t.Cleanup(func() { jsonOutput = false })

	path := filepath.Join(t.TempDir(), "plan.txt")
	require.NoError(t, os.WriteFile(path, []byte("Routes are posted on every floor.\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"chunk", path, "--json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	var chunks []chunking.Chunk
	require.NoError(t, json.Unmarshal(out.Bytes(), &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, "Routes are posted on every floor.", chunks[0].Text)
}
