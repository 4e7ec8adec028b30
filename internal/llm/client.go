package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Roles used in a structured conversation.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

// Message is one turn of a structured conversation.
type Message struct {
	Role string
	Text string
}

// Request is a single model call. Exactly one of Prompt or Conversation is used;
// Conversation wins when both are set.
type Request struct {
	Prompt       string
	Conversation []Message
	Tier         ModelTier
	Params       GenerationParams
	// JSON asks the provider for an application/json response.
	JSON bool
}

// Client is an abstraction over LLM providers
type Client interface {
	// Generate performs one call and returns the plain response text
	Generate(ctx context.Context, req Request) (string, error)
	// GetModel returns the provider model name for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Generate sends the prompt or conversation to the model configured for the request tier.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", req.Tier)
	}

	model := c.client.GenerativeModel(modelName)
	applyParams(model, req.Params)
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if len(req.Conversation) > 0 {
		resp, err = c.sendConversation(ctx, model, req.Conversation)
	} else {
		resp, err = model.GenerateContent(ctx, genai.Text(req.Prompt))
	}
	if err != nil {
		return "", Classify(fmt.Errorf("failed to generate content: %w", err))
	}

	return extractTextFromResponse(resp)
}

// sendConversation replays all but the last user turn as chat history.
func (c *GeminiClient) sendConversation(ctx context.Context, model *genai.GenerativeModel, conversation []Message) (*genai.GenerateContentResponse, error) {
	var history []*genai.Content
	for _, m := range conversation {
		switch m.Role {
		case RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Text)}}
		case RoleModel:
			history = append(history, &genai.Content{Role: RoleModel, Parts: []genai.Part{genai.Text(m.Text)}})
		default:
			history = append(history, &genai.Content{Role: RoleUser, Parts: []genai.Part{genai.Text(m.Text)}})
		}
	}
	if len(history) == 0 || history[len(history)-1].Role != RoleUser {
		return nil, fmt.Errorf("conversation must end with a user message")
	}

	last := history[len(history)-1]
	cs := model.StartChat()
	cs.History = history[:len(history)-1]
	return cs.SendMessage(ctx, last.Parts...)
}

func applyParams(model *genai.GenerativeModel, p GenerationParams) {
	if p.Temperature != nil {
		model.SetTemperature(*p.Temperature)
	}
	if p.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(p.MaxOutputTokens)
	}
	if p.TopK > 0 {
		model.SetTopK(p.TopK)
	}
	if p.TopP > 0 {
		model.SetTopP(p.TopP)
	}
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", &GatewayError{Kind: ErrContentFiltered, Message: "response blocked by safety filters"}
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
