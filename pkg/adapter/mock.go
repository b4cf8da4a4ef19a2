package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	calls           int
	Usage           *Usage
	Err             error
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: `{"hint": "Уточните, какой результат вы ожидаете, и начните с первого шага.", "focus": "цель пользователя"}`,
	}
}

// NewMockAdapterWithResponses creates a mock adapter keyed by the last user message.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	m := NewMockAdapter()
	m.responses = responses
	if defaultResponse != "" {
		m.defaultResponse = defaultResponse
	}
	return m
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls reports how many Chat calls were made.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Chat returns a deterministic reply for the last user message.
func (a *MockAdapter) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Err != nil {
		return nil, a.Err
	}
	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	content := a.defaultResponse
	if response, ok := a.responses[last]; ok {
		content = response
	}
	if content == "" {
		content = fmt.Sprintf("mock response: %s", last)
	}
	return &Response{Content: content, Model: model, Usage: a.Usage}, nil
}
