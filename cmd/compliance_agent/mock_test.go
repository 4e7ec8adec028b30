package main

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
)

// mockClient answers each request with the handler for its prompt file.
type mockClient struct {
	extraction func(prompt string) string
	compliance func(prompt string) string
	quality    func(prompt string) string
	reconcile  func(prompt string) string
	closed     bool
}

func (m *mockClient) Generate(_ context.Context, req llm.Request) (string, error) {
	system := req.Conversation[0].Text
	user := req.Conversation[len(req.Conversation)-1].Text

	var handler func(string) string
	switch system {
	case prompts.MustGet(prompts.ExtractionFile, prompts.KeySystem):
		handler = m.extraction
	case prompts.MustGet(prompts.ComplianceFile, prompts.KeySystem):
		handler = m.compliance
	case prompts.MustGet(prompts.QualityFile, prompts.KeySystem):
		handler = m.quality
	case prompts.MustGet(prompts.ReconcileFile, prompts.KeySystem):
		handler = m.reconcile
	}
	if handler == nil {
		return "[]", nil
	}
	return handler(user), nil
}

func (m *mockClient) GetModel(tier llm.ModelTier) string { return "mock-" + string(tier) }

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

var requirementLineRe = regexp.MustCompile(`(?m)^\[([^\]]+)\] (?:\([^)]*\) )?([^|\n]+)`)

// requirementIDs returns the ID of every "[id] text" line of a prompt.
func requirementIDs(prompt string) []string {
	var ids []string
	for _, m := range requirementLineRe.FindAllStringSubmatch(prompt, -1) {
		ids = append(ids, strings.TrimSpace(m[1]))
	}
	return ids
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
