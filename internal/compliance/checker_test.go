package compliance

import (
	"context"
	"strings"
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

func testRequirements() []types.Requirement {
	return []types.Requirement{
		{ID: "r1", Text: "Designate evacuation routes.", Section: "Evacuation"},
		{ID: "r2", Text: "Identify assembly points.", Section: "Evacuation"},
		{ID: "r3", Text: "Test alarms monthly.", Section: "Alerts"},
	}
}

func ids(findings []types.ComplianceFinding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.RequirementID
	}
	return out
}

func TestCheck_ReconcilesToInputOrder(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[
		{"requirement_id": "r3", "isPresent": true, "location": "Section 7", "evidence": "Alarms are tested on the first Monday."},
		{"requirement_id": "r1", "isPresent": false, "location": "Section 2", "evidence": "n/a"},
		{"requirement_id": "r3", "isPresent": false},
		{"requirement_id": "zzz", "isPresent": true}
	]`)}
	checker := NewChecker(mock, nil)

	result := checker.Check(context.Background(), "plan text", testRequirements())
	require.NoError(t, result.Err)
	require.Len(t, result.Findings, 3)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(result.Findings))

	r1 := result.Findings[0]
	assert.False(t, r1.IsPresent)
	assert.Nil(t, r1.Location, "absent findings carry no location")
	assert.Nil(t, r1.Evidence)

	assert.Equal(t, types.NotPresent("r2"), result.Findings[1])

	r3 := result.Findings[2]
	assert.True(t, r3.IsPresent, "first finding for a requirement wins")
	require.NotNil(t, r3.Location)
	assert.Equal(t, "Section 7", *r3.Location)

	assert.Equal(t, 1, result.Defaulted)
	assert.Equal(t, 1, result.PresentCount())
}

func TestCheck_PromptListsRequirementsWithIDs(t *testing.T) {
	mock := &MockLLMClient{}
	checker := NewChecker(mock, nil)

	checker.Check(context.Background(), "THE PLAN BODY", testRequirements())

	require.Len(t, mock.LastRequest.Conversation, 2)
	prompt := mock.LastRequest.Conversation[1].Text
	assert.Contains(t, prompt, "THE PLAN BODY")
	assert.Contains(t, prompt, "[r2] Identify assembly points.")
	assert.True(t, mock.LastRequest.JSON)
}

func TestCheck_MalformedResponse(t *testing.T) {
	for _, text := range []string{"Everything looks compliant!", "", `{"status": "ok"}`} {
		mock := &MockLLMClient{GenerateFunc: respond(text)}
		result := NewChecker(mock, nil).Check(context.Background(), "plan", testRequirements())

		require.ErrorIs(t, result.Err, llm.ErrMalformedOutput, "input %q", text)
		require.Len(t, result.Findings, 3)
		for _, f := range result.Findings {
			assert.False(t, f.IsPresent)
		}
		assert.Equal(t, 3, result.Defaulted)
	}
}

func TestCheck_MalformedItemDefaults(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[
		{"requirement_id": "r1", "isPresent": "true"},
		{"requirement_id": "r2", "isPresent": true, "location": "", "evidence": "  Assembly at the north lot. "}
	]`)}
	result := NewChecker(mock, nil).Check(context.Background(), "plan", testRequirements())

	require.NoError(t, result.Err)
	assert.False(t, result.Findings[0].IsPresent)
	assert.True(t, result.Findings[1].IsPresent)
	assert.Nil(t, result.Findings[1].Location)
	require.NotNil(t, result.Findings[1].Evidence)
	assert.Equal(t, "Assembly at the north lot.", *result.Findings[1].Evidence)
}

func TestCheck_UnknownIDsOnlyIsMalformed(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: respond(`[{"requirement_id": "r9", "isPresent": true}]`)}
	result := NewChecker(mock, nil).Check(context.Background(), "plan", testRequirements())

	assert.ErrorIs(t, result.Err, llm.ErrMalformedOutput)
	assert.Equal(t, 3, result.Defaulted)
	assert.Zero(t, result.PresentCount())
}

func TestCheck_GatewayErrorReported(t *testing.T) {
	mock := &MockLLMClient{GenerateFunc: func(context.Context, llm.Request) (string, error) {
		return "", &llm.GatewayError{Kind: llm.ErrTimeout}
	}}
	result := NewChecker(mock, nil).Check(context.Background(), "plan", testRequirements())

	assert.ErrorIs(t, result.Err, llm.ErrTimeout)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(result.Findings))
	assert.Zero(t, result.PresentCount())
}

func TestCheck_NoRequirements(t *testing.T) {
	mock := &MockLLMClient{}
	result := NewChecker(mock, nil).Check(context.Background(), "plan", nil)
	assert.Empty(t, result.Findings)
	assert.Zero(t, mock.Calls)
}

func TestReconcile_Completeness(t *testing.T) {
	reqs := testRequirements()
	loc := "4.1"
	findings, filled := Reconcile(reqs, []types.ComplianceFinding{
		{RequirementID: "r2", IsPresent: true, Location: &loc},
		{RequirementID: "other", IsPresent: true},
	})

	require.Len(t, findings, len(reqs))
	assert.Equal(t, 2, filled)
	for i, f := range findings {
		assert.Equal(t, reqs[i].ID, f.RequirementID)
	}
}

func TestFormatRequirements(t *testing.T) {
	out := FormatRequirements(testRequirements()[:2])
	assert.Equal(t, 2, len(strings.Split(out, "\n")))
	assert.True(t, strings.HasPrefix(out, "[r1] Designate evacuation routes."))
}
