package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/types"
)

// MockLLMClient is a test double for llm.Client
type MockLLMClient struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)
	LastRequest  llm.Request
	Calls        int
}

func (m *MockLLMClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.Calls++
	m.LastRequest = req
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "[]", nil
}

func (m *MockLLMClient) GetModel(tier llm.ModelTier) string { return "mock-" + string(tier) }

func (m *MockLLMClient) Close() error { return nil }

func respond(text string) func(context.Context, llm.Request) (string, error) {
	return func(context.Context, llm.Request) (string, error) { return text, nil }
}

func present(id, text string, isPresent bool) types.PresentRequirement {
	loc := "Section 3"
	evidence := "Routes are posted\n on every floor."
	f := types.ComplianceFinding{RequirementID: id, IsPresent: isPresent}
	if isPresent {
		f.Location = &loc
		f.Evidence = &evidence
	}
	return types.PresentRequirement{
		Requirement: types.Requirement{ID: id, Text: text, Section: "Evacuation"},
		Finding:     f,
	}
}

func TestEvaluate_RatesPresentRequirements(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[
		{"requirement_id": "r2", "quality_rating": "Poor", "issues": ["No timeline", " "], "suggestions": ["Add a timeline"]},
		{"requirement_id": "r1", "quality_rating": "excellent", "issues": [], "suggestions": []}
	]`)}
	evaluator := NewEvaluator(mock, nil)

	result := evaluator.Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "Designate routes.", true),
		present("r2", "Identify assembly points.", true),
	})

	require.NoError(t, result.Err)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, "r1", result.Findings[0].RequirementID)
	assert.Equal(t, types.QualityExcellent, result.Findings[0].QualityRating)
	assert.Equal(t, types.QualityPoor, result.Findings[1].QualityRating)
	assert.Equal(t, []string{"No timeline"}, result.Findings[1].Issues)
	assert.Zero(t, result.Defaulted)
	assert.Equal(t, llm.TierAdvanced, mock.LastRequest.Tier)
}

func TestEvaluate_SkipsAbsentRequirements(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[
		{"requirement_id": "r1", "quality_rating": "adequate"},
		{"requirement_id": "r2", "quality_rating": "excellent"}
	]`)}
	evaluator := NewEvaluator(mock, nil)

	result := evaluator.Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "Designate routes.", true),
		present("r2", "Identify assembly points.", false),
	})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "r1", result.Findings[0].RequirementID)
	assert.Equal(t, 1, result.Skipped)

	prompt := mock.LastRequest.Conversation[1].Text
	assert.Contains(t, prompt, `[r1] Designate routes. | Section 3 | "Routes are posted on every floor."`)
	assert.NotContains(t, prompt, "[r2]")
}

func TestEvaluate_PromptWithoutLocationOrEvidence(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[{"requirement_id": "r1", "quality_rating": "adequate"}]`)}
	in := present("r1", "Designate routes.", true)
	in.Finding.Location = nil
	in.Finding.Evidence = nil

	NewEvaluator(mock, nil).Evaluate(context.Background(), "plan", []types.PresentRequirement{in})

	prompt := mock.LastRequest.Conversation[1].Text
	assert.Contains(t, prompt, "[r1] Designate routes. | location not stated | no excerpt")
}

func TestEvaluate_NothingPresentMakesNoCall(t *testing.T) {
	mock := &MockLLMClient{}
	result := NewEvaluator(mock, nil).Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "x", false),
	})
	assert.Empty(t, result.Findings)
	assert.Zero(t, mock.Calls)
}

func TestEvaluate_DefaultsForMissingAndInvalidRatings(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[
		{"requirement_id": "r1", "quality_rating": "good"},
		{"requirement_id": "r9", "quality_rating": "poor"}
	]`)}
	result := NewEvaluator(mock, nil).Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "a", true),
		present("r2", "b", true),
	})

	require.Len(t, result.Findings, 2)
	for _, f := range result.Findings {
		assert.Equal(t, types.QualityAdequate, f.QualityRating)
		assert.Equal(t, []string{types.PlaceholderIssue}, f.Issues)
		assert.Equal(t, []string{types.PlaceholderSuggestion}, f.Suggestions)
	}
	assert.Equal(t, 2, result.Defaulted)
}

func TestEvaluate_MalformedResponse(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond("The plan is generally well written.")}
	result := NewEvaluator(mock, nil).Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "a", true),
	})

	require.NoError(t, result.Err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, types.DefaultQuality("r1"), result.Findings[0])
}

func TestEvaluate_GatewayError(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: func(context.Context, llm.Request) (string, error) {
		return "", &llm.GatewayError{Kind: llm.ErrContentFiltered}
	}}
	result := NewEvaluator(mock, nil).Evaluate(context.Background(), "plan", []types.PresentRequirement{
		present("r1", "a", true),
	})

	assert.ErrorIs(t, result.Err, llm.ErrContentFiltered)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, types.QualityAdequate, result.Findings[0].QualityRating)
}

func TestItemFinding(t *testing.T) {
	f, ok := Item{RequirementID: " r1 ", QualityRating: " EXCELLENT "}.Finding()
	require.True(t, ok)
	assert.Equal(t, "r1", f.RequirementID)
	assert.Equal(t, types.QualityExcellent, f.QualityRating)
	assert.NotNil(t, f.Issues)

	_, ok = Item{RequirementID: "r1", QualityRating: "fine"}.Finding()
	assert.False(t, ok)
}
