package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/types"
)

// MockLLMClient is a test double for llm.Client
type MockLLMClient struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockLLMClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "[]", nil
}

func (m *MockLLMClient) GetModel(tier llm.ModelTier) string { return "mock-" + string(tier) }

func (m *MockLLMClient) Close() error { return nil }

// userText returns the final user message of a request
func userText(req llm.Request) string {
	if len(req.Conversation) == 0 {
		return req.Prompt
	}
	return req.Conversation[len(req.Conversation)-1].Text
}

// respondByMarker returns the response whose marker appears in the prompt
func respondByMarker(responses map[string]string) func(context.Context, llm.Request) (string, error) {
	return func(_ context.Context, req llm.Request) (string, error) {
		prompt := userText(req)
		for marker, resp := range responses {
			if strings.Contains(prompt, marker) {
				return resp, nil
			}
		}
		return "[]", nil
	}
}

func chunksOf(contents ...string) []types.DocumentChunk {
	chunks := make([]types.DocumentChunk, len(contents))
	for i, c := range contents {
		chunks[i] = types.DocumentChunk{Content: c, Index: i}
	}
	return chunks
}

var testMeta = DocumentMetadata{DocumentID: "doc-1", Title: "Emergency Management Standard", Subtype: "regulation"}

func TestExtract_NormalizesItems(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respondByMarker(map[string]string{
		"CHUNK-A": "```json\n" + `[
			{"text": "  The plan shall   designate evacuation routes. ", "section": "Evacuation", "importance": "HIGH", "source_section": "4.1", "keywords": ["Routes", " routes ", "evacuation", ""]},
			{"text": "Shelter locations must be listed.", "section": "", "importance": "medium", "keywords": null}
		]` + "\n```",
		"CHUNK-B": `{"requirements": [{"text": "Staff should receive annual training.", "section": "Training", "importance": "low"}]}`,
	})}
	extractor := NewExtractor(mock, nil, 2)

	result, err := extractor.Extract(context.Background(), chunksOf("CHUNK-A text", "CHUNK-B text"), testMeta)
	require.NoError(t, err)
	require.Len(t, result.Requirements, 3)

	first := result.Requirements[0]
	assert.Equal(t, "The plan shall designate evacuation routes.", first.Text)
	assert.Equal(t, "Evacuation", first.Section)
	assert.Equal(t, types.ImportanceCritical, first.Importance)
	assert.Equal(t, "4.1", first.SourceSection)
	assert.Equal(t, []string{"routes", "evacuation"}, first.Keywords)
	assert.Equal(t, []string{"doc-1"}, first.SourceDocumentIDs)
	assert.NotEmpty(t, first.ID)

	second := result.Requirements[1]
	assert.Equal(t, types.DefaultSection, second.Section)
	assert.Equal(t, types.ImportanceImportant, second.Importance)
	assert.Empty(t, second.Keywords)

	third := result.Requirements[2]
	assert.Equal(t, "Training", third.Section)
	assert.Equal(t, types.ImportanceRecommended, third.Importance)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, map[string]int{"Evacuation": 1, types.DefaultSection: 1, "Training": 1}, result.BySection)
	assert.Zero(t, result.FailedChunks)
}

func TestExtract_MalformedChunkYieldsNothing(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respondByMarker(map[string]string{
		"GOOD": `[{"text": "Maintain a contact roster.", "section": "Communications", "importance": "critical"}]`,
		"BAD":  "I'm sorry, I could not find any requirements in this text.",
	})}
	extractor := NewExtractor(mock, nil, 1)

	result, err := extractor.Extract(context.Background(), chunksOf("GOOD chunk", "BAD chunk"), testMeta)
	require.NoError(t, err)
	require.Len(t, result.Requirements, 1)
	assert.Equal(t, "Maintain a contact roster.", result.Requirements[0].Text)
	assert.Equal(t, 1, result.FailedChunks)
}

func TestExtract_AllChunksMalformed(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respondByMarker(map[string]string{
		"PROSE": "no json here",
		"ITEMS": `[{"section": "Alerts"}, {"text": "  "}]`,
	})}
	extractor := NewExtractor(mock, nil, 2)

	result, err := extractor.Extract(context.Background(), chunksOf("PROSE chunk", "ITEMS chunk"), testMeta)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
	require.NotNil(t, result)
	assert.Empty(t, result.Requirements)
	assert.Equal(t, 2, result.FailedChunks)
	assert.Equal(t, 2, result.DroppedItems)
}

func TestExtract_EmptyRepliesAreNotFailures(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{}, nil, 1)

	result, err := extractor.Extract(context.Background(), chunksOf("preamble", "foreword"), testMeta)
	require.NoError(t, err)
	assert.Empty(t, result.Requirements)
	assert.Zero(t, result.FailedChunks)
}

func TestExtract_MalformedItemDropped(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: func(context.Context, llm.Request) (string, error) {
		return `[
			{"text": "Test the warning system monthly.", "section": "Alerts"},
			{"section": "Alerts", "importance": "critical"},
			{"text": "   ", "section": "Alerts"},
			{"text": "Record every drill.", "keywords": "drills"}
		]`, nil
	}}
	extractor := NewExtractor(mock, nil, 1)

	result, err := extractor.Extract(context.Background(), chunksOf("only chunk"), testMeta)
	require.NoError(t, err)
	require.Len(t, result.Requirements, 1)
	assert.Equal(t, "Test the warning system monthly.", result.Requirements[0].Text)
	assert.Equal(t, 3, result.DroppedItems)
	assert.Zero(t, result.FailedChunks)
}

func TestExtract_DeduplicatesAcrossChunks(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respondByMarker(map[string]string{
		"ONE": `[{"text": "Identify assembly points.", "section": "Evacuation", "keywords": ["assembly"]}]`,
		"TWO": `[{"text": "identify assembly points.", "section": "Shelter", "keywords": ["points"]}]`,
	})}
	extractor := NewExtractor(mock, nil, 2)

	result, err := extractor.Extract(context.Background(), chunksOf("ONE", "TWO"), testMeta)
	require.NoError(t, err)
	require.Len(t, result.Requirements, 1)
	assert.Equal(t, "Evacuation", result.Requirements[0].Section)
	assert.Equal(t, []string{"assembly", "points"}, result.Requirements[0].Keywords)
}

func TestExtract_AllChunksFailWithGatewayError(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: func(context.Context, llm.Request) (string, error) {
		return "", &llm.GatewayError{Kind: llm.ErrModelUnavailable, Quota: true}
	}}
	extractor := NewExtractor(mock, nil, 2)

	result, err := extractor.Extract(context.Background(), chunksOf("a", "b", "c"), testMeta)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
	assert.True(t, llm.IsQuota(err))
	require.NotNil(t, result)
	assert.Empty(t, result.Requirements)
	assert.Equal(t, 3, result.FailedChunks)
}

func TestExtract_PartialGatewayFailureIsNotFatal(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: func(_ context.Context, req llm.Request) (string, error) {
		if strings.Contains(userText(req), "flaky") {
			return "", &llm.GatewayError{Kind: llm.ErrTimeout}
		}
		return `[{"text": "Keep generator fuel for 72 hours."}]`, nil
	}}
	extractor := NewExtractor(mock, nil, 2)

	result, err := extractor.Extract(context.Background(), chunksOf("flaky", "stable"), testMeta)
	require.NoError(t, err)
	assert.Len(t, result.Requirements, 1)
	assert.Equal(t, 1, result.FailedChunks)
}

func TestExtract_SkipsBlankChunksAndUsesSectionPath(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	mock := &MockLLMClient{GenerateFunc: func(_ context.Context, req llm.Request) (string, error) {
		mu.Lock()
		prompts = append(prompts, userText(req))
		mu.Unlock()
		assert.True(t, req.JSON)
		assert.Equal(t, llm.RoleSystem, req.Conversation[0].Role)
		return "[]", nil
	}}
	extractor := NewExtractor(mock, nil, 1)

	chunks := chunksOf("   \n", "4. EVACUATION\n\nRoutes shall be posted.")
	chunks[1].Metadata = map[string]any{types.ChunkMetadataSectionPath: "4. EVACUATION"}

	result, err := extractor.Extract(context.Background(), chunks, testMeta)
	require.NoError(t, err)
	assert.Empty(t, result.Requirements)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Section path: 4. EVACUATION")
	assert.Contains(t, prompts[0], "Emergency Management Standard")
}

func TestExtract_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := &MockLLMClient{GenerateFunc: func(context.Context, llm.Request) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "[]", nil
	}}
	extractor := NewExtractor(mock, nil, 2)

	_, err := extractor.Extract(context.Background(), chunksOf("a", "b", "c", "d", "e", "f"), testMeta)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockLLMClient{GenerateFunc: func(ctx context.Context, _ llm.Request) (string, error) {
		return "", ctx.Err()
	}}
	extractor := NewExtractor(mock, nil, 1)

	_, err := extractor.Extract(ctx, chunksOf("a"), testMeta)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDeduplicate(t *testing.T) {
	reqs := []types.Requirement{
		{ID: "1", Text: "Post evacuation maps.", Section: "Evacuation", SourceDocumentIDs: []string{"a"}, Keywords: []string{"maps"}},
		{ID: "2", Text: "Train wardens.", Section: "Training", SourceDocumentIDs: []string{"a"}},
		{ID: "3", Text: "  POST evacuation   maps. ", Section: "Other", SourceDocumentIDs: []string{"b"}, Keywords: []string{"maps", "signage"}},
		{ID: "4", Text: "post evacuation maps.", Section: "Other", SourceDocumentIDs: []string{"a"}},
	}

	got := Deduplicate(reqs)
	want := []types.Requirement{
		{ID: "1", Text: "Post evacuation maps.", Section: "Evacuation", SourceDocumentIDs: []string{"a", "b"}, Keywords: []string{"maps", "signage"}},
		{ID: "2", Text: "Train wardens.", Section: "Training", SourceDocumentIDs: []string{"a"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Deduplicate() mismatch (-want +got):\n%s", diff)
	}

	// input untouched
	assert.Equal(t, []string{"a"}, reqs[0].SourceDocumentIDs)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	reqs := []types.Requirement{
		{ID: "1", Text: "A", SourceDocumentIDs: []string{"x"}},
		{ID: "2", Text: "a ", SourceDocumentIDs: []string{"y"}},
		{ID: "3", Text: "B"},
	}

	once := Deduplicate(reqs)
	twice := Deduplicate(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second pass changed the result (-once +twice):\n%s", diff)
	}
	assert.Nil(t, Deduplicate(nil))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "post evacuation maps.", NormalizeKey("  Post  Evacuation\nMaps. "))
	assert.Equal(t, NormalizeKey("x"), NormalizeKey(NormalizeKey(" X ")))
}

func TestNormalizeKeywords(t *testing.T) {
	assert.Equal(t, []string{"fire drill", "alarm"}, NormalizeKeywords([]string{" Fire  Drill", "ALARM", "alarm", ""}))
	assert.Nil(t, NormalizeKeywords(nil))
}
