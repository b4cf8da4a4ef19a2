// Package navigator decides, per conversation turn, whether to do nothing,
// answer from a template, ask a small model for a steering hint, or hand the
// turn to the full agent.
package navigator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/metrics"
	"github.com/zen-systems/nanobot/pkg/router"
	"github.com/zen-systems/nanobot/pkg/slm"
	"github.com/zen-systems/nanobot/pkg/telemetry"
)

// HintGenerator produces a steering hint or nil on any failure.
type HintGenerator interface {
	Generate(ctx context.Context, payload *router.LLMPayload) *slm.Hint
	Model() string
}

// Navigator runs the per-turn pipeline. It is safe for concurrent use; the
// sink owns the only shared mutable state.
type Navigator struct {
	gen      HintGenerator
	sink     telemetry.Sink
	logger   zerolog.Logger
	metrics  *metrics.Navigator
	model    string
	ruleOpts []router.Option
	now      func() time.Time
}

// Option customizes a Navigator.
type Option func(*Navigator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Navigator) {
		n.logger = logger.With().Str("component", "navigator").Logger()
	}
}

// WithMetrics records every decision in m.
func WithMetrics(m *metrics.Navigator) Option {
	return func(n *Navigator) { n.metrics = m }
}

// WithModelName overrides the model name written to telemetry.
func WithModelName(model string) Option {
	return func(n *Navigator) { n.model = model }
}

// WithRuleOptions passes options such as risk detectors to the rule engine.
func WithRuleOptions(opts ...router.Option) Option {
	return func(n *Navigator) { n.ruleOpts = append(n.ruleOpts, opts...) }
}

// WithClock overrides the clock used for idle time and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Navigator) {
		if now != nil {
			n.now = now
		}
	}
}

// New creates a Navigator. gen may be nil, in which case every SLM route
// degrades to FALLBACK. sink may be nil to skip telemetry.
func New(gen HintGenerator, sink telemetry.Sink, opts ...Option) *Navigator {
	n := &Navigator{
		gen:    gen,
		sink:   sink,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.model == "" && gen != nil {
		n.model = gen.Model()
	}
	return n
}

// Analyze runs one turn through the rule engine and, when warranted, the
// hint model. It always returns a Result and emits exactly one telemetry
// event; internal failures degrade the route instead of surfacing.
func (n *Navigator) Analyze(ctx context.Context, history []router.HistoryEntry, message string, cfg *config.NavigatorConfig, conversationID string) Result {
	opts := append([]router.Option{router.WithClock(n.now)}, n.ruleOpts...)
	decision := router.Evaluate(message, history, router.ThresholdsFrom(cfg), opts...)

	res := Result{
		Route:      decision.Route,
		Complexity: decision.Complexity,
		Metrics: ResultMetrics{
			Metrics: decision.Metrics,
			Tags:    decision.Tags,
			Flags:   decision.Flags,
		},
	}

	slmCalled, degraded := false, false
	if decision.Route == router.SLM {
		slmCalled = true
		hint := n.generate(ctx, decision.Payload, cfg.SLMTimeout())
		if hint == nil {
			res.Route = router.Fallback
			degraded = true
		} else {
			text := hint.Hint
			res.Hint = &text
			res.Metrics.Focus = hint.Focus
			res.Metrics.TokensIn = hint.TokensIn
			res.Metrics.TokensOut = hint.TokensOut
			res.Metrics.LatencyMS = hint.LatencyMS
		}
	}

	inRate, outRate := cfg.Rates()
	res.Metrics.CostUSD = EstimateCost(res.Metrics.TokensIn, res.Metrics.TokensOut, inRate, outRate)
	if res.Route == router.SLM {
		res.Metrics.TokensSavedEst = EstimateTokensSaved(int(decision.Metrics.TokenEst), res.Metrics.TokensIn, res.Metrics.TokensOut)
	}

	n.emit(ctx, conversationID, res)

	n.metrics.Observe(metrics.Observation{
		Route:       res.Route.String(),
		Complexity:  res.Complexity,
		Degraded:    degraded,
		SLMCalled:   slmCalled,
		LatencyMS:   res.Metrics.LatencyMS,
		CostUSD:     res.Metrics.CostUSD,
		TokensSaved: res.Metrics.TokensSavedEst,
	})

	n.logger.Debug().
		Str("route", res.Route.String()).
		Float64("complexity", res.Complexity).
		Strs("tags", res.Metrics.Tags).
		Str("stage", res.Metrics.Flags.Stage.String()).
		Bool("degraded", degraded).
		Msg("turn analyzed")

	return res
}

// generate calls the hint model under the configured deadline and turns a
// panic into a nil hint.
func (n *Navigator) generate(ctx context.Context, payload *router.LLMPayload, timeout time.Duration) (hint *slm.Hint) {
	if n.gen == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Msg("hint generator panicked")
			hint = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.gen.Generate(ctx, payload)
}

func (n *Navigator) emit(ctx context.Context, conversationID string, res Result) {
	if n.sink == nil {
		return
	}
	tags := res.Metrics.Tags
	if tags == nil {
		tags = []string{}
	}
	event := telemetry.Event{
		TS:              n.now().UTC(),
		ConversationID:  telemetry.HashConversationID(conversationID),
		Route:           res.Route.String(),
		ComplexityScore: res.Complexity,
		Tags:            tags,
		Model:           n.model,
		TokensIn:        res.Metrics.TokensIn,
		TokensOut:       res.Metrics.TokensOut,
		LatencyMS:       res.Metrics.LatencyMS,
		CostUSD:         res.Metrics.CostUSD,
		TokensSavedEst:  res.Metrics.TokensSavedEst,
	}

	if err := n.write(ctx, event); err != nil {
		n.metrics.TelemetryError()
		n.logger.Warn().Err(err).Str("route", event.Route).Msg("telemetry write failed")
	}
}

func (n *Navigator) write(ctx context.Context, event telemetry.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telemetry sink panic: %v", r)
		}
	}()
	// Telemetry must land even if the turn's context was cancelled mid-call.
	return n.sink.Write(context.WithoutCancel(ctx), event)
}
