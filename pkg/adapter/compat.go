package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Known OpenAI-compatible endpoints.
var compatBaseURLs = map[string]string{
	"deepseek":   "https://api.deepseek.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

// CompatAdapter implements the Provider interface for any endpoint that
// speaks the OpenAI chat completions protocol.
type CompatAdapter struct {
	name   string
	client *openai.Client
	models []string
}

// NewCompatAdapter creates an adapter for an OpenAI-compatible endpoint.
// baseURL may be empty when name is one of the known endpoints.
func NewCompatAdapter(name, apiKey, baseURL string) (*CompatAdapter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "compat"
	}
	if baseURL == "" {
		baseURL = compatBaseURLs[name]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", name)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	models := []string{"default"}
	if name == "deepseek" {
		models = []string{"deepseek-chat", "deepseek-reasoner"}
	}

	return &CompatAdapter{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		models: models,
	}, nil
}

// Name returns the adapter identifier.
func (a *CompatAdapter) Name() string {
	return a.name
}

// Models returns the list of known models for the endpoint.
func (a *CompatAdapter) Models() []string {
	return a.models
}

// Chat sends the message list to the compatible endpoint.
func (a *CompatAdapter) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokensOr(req.MaxTokens, 4096),
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapError(a.name, apiErr.HTTPStatusCode, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, wrapError(a.name, reqErr.HTTPStatusCode, err)
		}
		return nil, fmt.Errorf("%s API error: %w", a.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", a.name)
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
