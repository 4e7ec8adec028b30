package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/plan-compliance/internal/types"
)

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutDocument(types.Document{ID: "d1", Title: "Plan"}, []types.DocumentChunk{
		{Content: "second", Index: 1},
		{Content: "first", Index: 0},
	})

	doc, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Plan", doc.Title)

	missing, err := s.GetDocumentByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	chunks, err := s.GetDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
}

func TestFiles(t *testing.T) {
	s := New()
	s.PutFile("uploads", "plans/p.md", []byte("# Plan"))

	data, err := s.DownloadRawFile(context.Background(), "uploads", "plans/p.md")
	require.NoError(t, err)
	assert.Equal(t, "# Plan", string(data))

	_, err = s.DownloadRawFile(context.Background(), "uploads", "other.md")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRequirementsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	shared := &types.Requirement{ID: "r1", Text: "Shared", Section: "A", SourceDocumentIDs: []string{"doc-a"}}
	own := &types.Requirement{ID: "r2", Text: "Own", Section: "A", SourceDocumentIDs: []string{"doc-a"}}
	other := &types.Requirement{ID: "r3", Text: "Other", Section: "B", SourceDocumentIDs: []string{"doc-b"}}
	for _, r := range []*types.Requirement{shared, own, other} {
		require.NoError(t, s.InsertRequirement(ctx, r))
		require.NoError(t, s.LinkRequirementToSource(ctx, r.ID, r.SourceDocumentIDs[0]))
	}
	require.NoError(t, s.LinkRequirementToSource(ctx, "r1", "doc-b"))
	require.NoError(t, s.LinkRequirementToSource(ctx, "r1", "doc-b"))
	assert.Error(t, s.InsertRequirement(ctx, shared))
	assert.Error(t, s.LinkRequirementToSource(ctx, "unknown", "doc-a"))

	reqs, err := s.GetRequirementsForDocuments(ctx, []string{"doc-b"})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "r1", reqs[0].ID)
	assert.Equal(t, []string{"doc-a", "doc-b"}, reqs[0].SourceDocumentIDs)

	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-a", nil))

	reqs, err = s.GetRequirementsForDocuments(ctx, []string{"doc-a", "doc-b"})
	require.NoError(t, err)
	require.Len(t, reqs, 2, "r2 had doc-a as its only source")
	assert.Equal(t, "r1", reqs[0].ID)
	assert.Equal(t, []string{"doc-b"}, reqs[0].SourceDocumentIDs)
	assert.Equal(t, "r3", reqs[1].ID)
}

func TestReplaceRequirementsForDocument(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-a", []types.Requirement{
		{ID: "a1", Text: "Routes", Section: "Evacuation"},
		{ID: "a2", Text: "Drills", Section: "Training"},
	}))
	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-b", []types.Requirement{
		{ID: "b1", Text: "Roster", Section: "Communications", SourceDocumentIDs: []string{"doc-b", "doc-c"}},
	}))
	require.NoError(t, s.LinkRequirementToSource(ctx, "a1", "doc-b"))

	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-a", []types.Requirement{
		{ID: "a3", Text: "Assembly points", Section: "Evacuation"},
	}))

	reqs, err := s.GetRequirementsForDocuments(ctx, []string{"doc-a"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "a3", reqs[0].ID)
	assert.Equal(t, []string{"doc-a"}, reqs[0].SourceDocumentIDs)

	reqs, err = s.GetRequirementsForDocuments(ctx, []string{"doc-b"})
	require.NoError(t, err)
	require.Len(t, reqs, 2, "a1 keeps its doc-b link")
	assert.Equal(t, "a1", reqs[0].ID)
	assert.Equal(t, []string{"doc-b"}, reqs[0].SourceDocumentIDs)
	assert.Equal(t, []string{"doc-b", "doc-c"}, reqs[1].SourceDocumentIDs)
}

func TestReplaceRequirementsForDocument_FailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-a", []types.Requirement{
		{ID: "a1", Text: "Routes", Section: "Evacuation"},
		{ID: "a2", Text: "Drills", Section: "Training"},
	}))
	require.NoError(t, s.ReplaceRequirementsForDocument(ctx, "doc-b", []types.Requirement{
		{ID: "b1", Text: "Roster", Section: "Communications"},
	}))

	tests := []struct {
		name string
		reqs []types.Requirement
	}{
		{"id held by another document", []types.Requirement{{ID: "n1", Text: "New"}, {ID: "b1", Text: "Clash"}}},
		{"repeated id", []types.Requirement{{ID: "n1", Text: "New"}, {ID: "n1", Text: "Again"}}},
		{"missing id", []types.Requirement{{ID: "n1", Text: "New"}, {Text: "No id"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.ReplaceRequirementsForDocument(ctx, "doc-a", tt.reqs))

			reqs, err := s.GetRequirementsForDocuments(ctx, []string{"doc-a", "doc-b"})
			require.NoError(t, err)
			ids := make([]string, len(reqs))
			for i, r := range reqs {
				ids[i] = r.ID
			}
			assert.Equal(t, []string{"a1", "a2", "b1"}, ids)
		})
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	s := New()

	none, err := s.GetLatestReport(ctx, "plan-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertReport(ctx, &types.AnalysisReport{ID: "old", PlanID: "plan-1", AnalyzedAt: base}))
	require.NoError(t, s.InsertReport(ctx, &types.AnalysisReport{ID: "new", PlanID: "plan-1", AnalyzedAt: base.Add(time.Hour)}))
	require.NoError(t, s.InsertReport(ctx, &types.AnalysisReport{ID: "other", PlanID: "plan-2", AnalyzedAt: base.Add(2 * time.Hour)}))
	assert.Error(t, s.InsertReport(ctx, &types.AnalysisReport{}))

	latest, err := s.GetLatestReport(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
	assert.Equal(t, 3, s.ReportCount())

	require.NoError(t, s.InsertFindings(ctx, "new",
		[]types.ComplianceFinding{{RequirementID: "r1", IsPresent: true}},
		[]types.QualityFinding{{RequirementID: "r1", QualityRating: types.QualityExcellent}},
	))
	c, q := s.Findings("new")
	assert.Len(t, c, 1)
	assert.Len(t, q, 1)
}
