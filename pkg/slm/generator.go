package slm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zen-systems/nanobot/pkg/adapter"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/router"
)

const (
	// DefaultTimeout bounds a single hint call.
	DefaultTimeout = 2 * time.Second

	maxTokens   = 120
	temperature = 0.2
)

// SystemPrompt instructs the hint model. It is sent verbatim on every call.
const SystemPrompt = `Ты — навигатор диалога персонального ассистента. ` +
	`По данным о текущем ходе разговора дай пользователю одну подсказку: ` +
	`ровно одно предложение, не более 40 слов, спокойный и практичный тон, ` +
	`конкретный следующий шаг. Ответь только компактным JSON вида ` +
	`{"hint": "...", "focus": "..."}, где focus — короткая тема подсказки. ` +
	`Без markdown, без пояснений, без текста вне JSON.`

var errRateLimited = errors.New("hint rate limit exceeded")

// Hint is a validated steering suggestion.
type Hint struct {
	Hint      string  `json:"hint"`
	Focus     string  `json:"focus"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	LatencyMS float64 `json:"latency_ms"`
}

// Generator asks a small model for a hint. It holds no per-call state and is
// safe for concurrent use.
type Generator struct {
	provider adapter.Provider
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   zerolog.Logger
	now      func() time.Time
}

// Option customizes a Generator.
type Option func(*Generator)

// WithTimeout sets the deadline for a call whose context carries none.
// Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLimiter refuses calls when the limiter has no token available.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Generator) { g.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger.With().Str("component", "slm").Logger()
	}
}

// WithAliases resolves the model name through the alias table.
func WithAliases(aliases *config.ModelAliases) Option {
	return func(g *Generator) { g.model = aliases.Resolve(g.model) }
}

// New creates a Generator for the given provider and model.
func New(provider adapter.Provider, model string, opts ...Option) *Generator {
	g := &Generator{
		provider: provider,
		model:    model,
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewLimiter builds a limiter allowing requestsPerMinute calls with a burst
// of the same size. It returns nil (unlimited) for non-positive rates.
func NewLimiter(requestsPerMinute float64) *rate.Limiter {
	if requestsPerMinute <= 0 || math.IsNaN(requestsPerMinute) || math.IsInf(requestsPerMinute, 0) {
		return nil
	}
	burst := int(requestsPerMinute)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerMinute/60), burst)
}

// Model returns the resolved model identifier.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Generate returns a hint for payload, or nil on timeout, provider error,
// rate limiting, or unusable output. It never panics on provider failure.
func (g *Generator) Generate(ctx context.Context, payload *router.LLMPayload) *Hint {
	if g == nil || g.provider == nil || payload == nil {
		return nil
	}
	if g.limiter != nil && !g.limiter.Allow() {
		g.logger.Warn().Err(errRateLimited).Str("model", g.model).Msg("hint call skipped")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to encode hint payload")
		return nil
	}

	req := adapter.ChatRequest{
		Model: g.model,
		Messages: []adapter.Message{
			{Role: adapter.RoleSystem, Content: SystemPrompt},
			{Role: adapter.RoleUser, Content: string(body)},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	start := g.now()
	resp, err := g.call(ctx, req)
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("provider", g.provider.Name()).
			Str("model", g.model).
			Bool("timeout", adapter.IsTimeout(err)).
			Bool("transient", adapter.IsTransient(err)).
			Msg("hint call failed")
		return nil
	}

	hint, focus, ok := ParseHint(resp.Content)
	if !ok {
		g.logger.Warn().Str("model", g.model).Int("content_len", len(resp.Content)).Msg("hint output unusable")
		return nil
	}

	usage := adapter.NormalizeUsage(resp.Usage)
	latency := float64(g.now().Sub(start).Microseconds()) / 1000
	return &Hint{
		Hint:      hint,
		Focus:     focus,
		TokensIn:  usage.PromptTokens,
		TokensOut: usage.CompletionTokens,
		LatencyMS: math.Round(latency*100) / 100,
	}
}

type callResult struct {
	resp *adapter.Response
	err  error
}

// call enforces the deadline even if the provider ignores ctx. A deadline
// already on ctx wins over the generator's own timeout.
func (g *Generator) call(ctx context.Context, req adapter.ChatRequest) (*adapter.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		resp, err := g.provider.Chat(ctx, req)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp == nil {
			return nil, errors.New("provider returned empty response")
		}
		return res.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
