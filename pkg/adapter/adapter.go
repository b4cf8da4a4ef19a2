package adapter

import (
	"context"
)

// Provider defines the interface for LLM provider adapters.
type Provider interface {
	// Chat sends a message list to the model and returns the reply.
	Chat(ctx context.Context, req ChatRequest) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
