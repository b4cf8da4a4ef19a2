package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaAdapter implements the Provider interface for local models served by Ollama.
type OllamaAdapter struct {
	client *api.Client
}

// NewOllamaAdapter creates an adapter for the Ollama server at baseURL.
func NewOllamaAdapter(baseURL string) (*OllamaAdapter, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL %q: %w", baseURL, err)
	}
	return &OllamaAdapter{client: api.NewClient(parsed, http.DefaultClient)}, nil
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns commonly used small local models.
func (a *OllamaAdapter) Models() []string {
	return []string{"qwen3:4b", "llama3.2:3b", "gemma3:4b"}
}

// Chat runs a non-streaming chat against Ollama.
func (a *OllamaAdapter) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	var out Response
	var usage Usage
	err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		out.Model = resp.Model
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, wrapError(a.Name(), statusErr.StatusCode, err)
		}
		return nil, fmt.Errorf("ollama API error: %w", err)
	}

	out.Usage = &usage
	return &out, nil
}
