// Package agent is the caller side of the navigator: it turns a routing
// decision into a reply.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/nanobot/pkg/adapter"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/navigator"
	"github.com/zen-systems/nanobot/pkg/router"
)

const (
	agentMaxTokens = 1024
	hintPrefix     = "Подсказка навигатора (используй как ориентир, не цитируй): "
)

// DefaultSystemPrompt primes the full agent.
const DefaultSystemPrompt = "Ты — nanobot, персональный ассистент. Отвечай по делу и на языке пользователя."

// Turn is one inbound user message.
type Turn struct {
	ConversationID string
	Message        string
	History        []router.HistoryEntry
}

// Reply is what the loop produced for a turn.
type Reply struct {
	Text      string
	Route     router.Route
	Navigated bool
	Hint      string
	Usage     adapter.Usage
}

// Analyzer is the subset of the navigator the loop depends on.
type Analyzer interface {
	Analyze(ctx context.Context, history []router.HistoryEntry, message string, cfg *config.NavigatorConfig, conversationID string) navigator.Result
}

// Loop routes turns through the navigator and calls the full agent when needed.
type Loop struct {
	nav       Analyzer
	provider  adapter.Provider
	model     string
	system    string
	templates Templates
	logger    zerolog.Logger

	mu  sync.RWMutex
	cfg *config.NavigatorConfig
}

// Option customizes a Loop.
type Option func(*Loop)

// WithTemplates replaces the canned replies.
func WithTemplates(t Templates) Option {
	return func(l *Loop) { l.templates = t }
}

// WithSystemPrompt replaces the agent system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) { l.system = prompt }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger.With().Str("component", "agent").Logger()
	}
}

// NewLoop creates a loop. nav may be nil to always use the full agent.
func NewLoop(nav Analyzer, provider adapter.Provider, model string, cfg *config.NavigatorConfig, opts ...Option) *Loop {
	l := &Loop{
		nav:       nav,
		provider:  provider,
		model:     model,
		system:    DefaultSystemPrompt,
		templates: DefaultTemplates(),
		logger:    zerolog.Nop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetConfig swaps the navigator config, e.g. after a hot reload.
func (l *Loop) SetConfig(cfg *config.NavigatorConfig) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// Config returns the active navigator config.
func (l *Loop) Config() *config.NavigatorConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Handle answers one turn. Navigator failures never surface here; only the
// full agent call can return an error.
func (l *Loop) Handle(ctx context.Context, turn Turn) (*Reply, error) {
	cfg := l.Config()

	if l.nav == nil || !navigator.ShouldRun(turn.ConversationID, cfg) {
		return l.runAgent(ctx, turn, "", router.Fallback, false)
	}

	res := l.nav.Analyze(ctx, turn.History, turn.Message, cfg, turn.ConversationID)
	l.logger.Debug().
		Str("route", res.Route.String()).
		Float64("complexity", res.Complexity).
		Msg("navigator decision")

	switch res.Route {
	case router.NoAction:
		return &Reply{Route: res.Route, Navigated: true}, nil
	case router.Template:
		return &Reply{
			Text:      l.templates.Pick(res.Metrics.Flags, res.Metrics.Tags),
			Route:     res.Route,
			Navigated: true,
		}, nil
	case router.SLM:
		return l.runAgent(ctx, turn, res.HintText(), res.Route, true)
	default:
		return l.runAgent(ctx, turn, "", res.Route, true)
	}
}

func (l *Loop) runAgent(ctx context.Context, turn Turn, hint string, route router.Route, navigated bool) (*Reply, error) {
	if l.provider == nil {
		return nil, fmt.Errorf("no agent provider configured")
	}

	messages := []adapter.Message{{Role: adapter.RoleSystem, Content: l.system}}
	for _, h := range turn.History {
		role := h.Role
		if role != adapter.RoleUser && role != adapter.RoleAssistant {
			continue
		}
		messages = append(messages, adapter.Message{Role: role, Content: h.Content})
	}
	if hint != "" {
		messages = append(messages, adapter.Message{Role: adapter.RoleSystem, Content: hintPrefix + hint})
	}
	messages = append(messages, adapter.Message{Role: adapter.RoleUser, Content: turn.Message})

	start := time.Now()
	resp, err := l.provider.Chat(ctx, adapter.ChatRequest{
		Model:     l.model,
		Messages:  messages,
		MaxTokens: agentMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent call failed: %w", err)
	}

	l.logger.Debug().
		Str("provider", l.provider.Name()).
		Str("model", l.model).
		Dur("latency", time.Since(start)).
		Bool("hinted", hint != "").
		Msg("agent replied")

	return &Reply{
		Text:      resp.Content,
		Route:     route,
		Navigated: navigated,
		Hint:      hint,
		Usage:     adapter.NormalizeUsage(resp.Usage),
	}, nil
}
