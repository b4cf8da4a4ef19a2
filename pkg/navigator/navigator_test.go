package navigator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/nanobot/pkg/adapter"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/metrics"
	"github.com/zen-systems/nanobot/pkg/router"
	"github.com/zen-systems/nanobot/pkg/slm"
	"github.com/zen-systems/nanobot/pkg/telemetry"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// midBandQuestion has a question mark, ~80 estimated tokens and no tags.
var midBandQuestion = strings.TrimSpace(strings.Repeat("cat ", 79)) + " cat?"

func enabledCfg() *config.NavigatorConfig {
	cfg := config.DefaultNavigatorConfig()
	cfg.Enabled = true
	cfg.Pricing = config.PricingConfig{InputPer1K: 0.00015, OutputPer1K: 0.0006}
	return cfg
}

type memorySink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *memorySink) Write(_ context.Context, e telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Events() []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Event(nil), s.events...)
}

type errSink struct{}

func (errSink) Write(context.Context, telemetry.Event) error { return errors.New("permission denied") }
func (errSink) Close() error                                 { return nil }

type panicSink struct{}

func (panicSink) Write(context.Context, telemetry.Event) error { panic("disk on fire") }
func (panicSink) Close() error                                 { return nil }

type countingGen struct {
	mu    sync.Mutex
	calls int
	hint  *slm.Hint
}

func (g *countingGen) Generate(context.Context, *router.LLMPayload) *slm.Hint {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.hint
}

func (g *countingGen) Model() string { return "counting" }

type panicGen struct{}

func (panicGen) Generate(context.Context, *router.LLMPayload) *slm.Hint { panic("boom") }
func (panicGen) Model() string                                        { return "panicky" }

type hangingProvider struct{}

func (hangingProvider) Name() string     { return "hanging" }
func (hangingProvider) Models() []string { return nil }
func (hangingProvider) Chat(ctx context.Context, _ adapter.ChatRequest) (*adapter.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnalyzeMidBandUsesHint(t *testing.T) {
	mock := adapter.NewMockAdapter()
	mock.Usage = &adapter.Usage{PromptTokens: 40, CompletionTokens: 20}
	sink := &memorySink{}
	nav := New(slm.New(mock, "gpt-4o-mini"), sink, WithClock(clock))

	res := nav.Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv-c")

	assert.Equal(t, router.SLM, res.Route)
	require.NotNil(t, res.Hint)
	assert.NotEmpty(t, res.HintText())
	assert.Equal(t, "цель пользователя", res.Metrics.Focus)
	assert.Equal(t, 40, res.Metrics.TokensIn)
	assert.Equal(t, 20, res.Metrics.TokensOut)
	assert.InDelta(t, 0.000018, res.Metrics.CostUSD, 1e-12)
	assert.Equal(t, 60, res.Metrics.TokensSavedEst)
	assert.Equal(t, 1, mock.Calls())

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "SLM", events[0].Route)
	assert.Equal(t, "gpt-4o-mini", events[0].Model)
	assert.Equal(t, fixedNow, events[0].TS)
}

func TestAnalyzeHintTimeoutFallsBack(t *testing.T) {
	sink := &memorySink{}
	cfg := enabledCfg()
	cfg.SLM.TimeoutSeconds = 0.02
	nav := New(slm.New(hangingProvider{}, "slow-model"), sink, WithClock(clock))

	start := time.Now()
	res := nav.Analyze(context.Background(), nil, midBandQuestion, cfg, "conv-d")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, router.Fallback, res.Route)
	assert.Nil(t, res.Hint)
	assert.Empty(t, res.Metrics.Focus)
	assert.Zero(t, res.Metrics.TokensIn)
	assert.Zero(t, res.Metrics.CostUSD)
	assert.Zero(t, res.Metrics.TokensSavedEst)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "FALLBACK", events[0].Route)
}

func TestAnalyzeHighComplexitySkipsHint(t *testing.T) {
	gen := &countingGen{hint: &slm.Hint{Hint: "unused"}}
	msg := strings.Repeat("how do i get this deployment to work? ", 30)
	history := []router.HistoryEntry{{Role: "user", Content: msg}}

	res := New(gen, nil, WithClock(clock)).Analyze(context.Background(), history, msg, enabledCfg(), "conv-e")

	assert.Equal(t, router.Fallback, res.Route)
	assert.GreaterOrEqual(t, res.Complexity, 0.75)
	assert.Zero(t, gen.calls)
	assert.Nil(t, res.Hint)
}

func TestAnalyzeTemplateAndNoAction(t *testing.T) {
	gen := &countingGen{}
	nav := New(gen, nil, WithClock(clock))

	res := nav.Analyze(context.Background(), nil, "Привет", enabledCfg(), "conv-a")
	assert.Equal(t, router.Template, res.Route)

	recent := fixedNow.Add(-time.Second)
	cfg := enabledCfg()
	cfg.CooldownSeconds = config.Float64(5)
	history := []router.HistoryEntry{{Role: "user", Content: "ещё раз", Timestamp: &recent}}
	res = nav.Analyze(context.Background(), history, "ещё раз", cfg, "conv-b")
	assert.Equal(t, router.NoAction, res.Route)

	assert.Zero(t, gen.calls)
}

func TestAnalyzeWritesHashedTelemetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "navigator_pilot.jsonl")
	nav := New(slm.New(adapter.NewMockAdapter(), "mock-1"), telemetry.NewJSONLSink(path), WithClock(clock))

	ids := []string{"telegram:1", "telegram:2", "discord:3"}
	messages := []string{"Привет", midBandQuestion, strings.Repeat("срочно помоги, ошибка? ", 40)}
	for i, id := range ids {
		nav.Analyze(context.Background(), nil, messages[i], enabledCfg(), id)
	}

	events, err := telemetry.ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.NotEqual(t, ids[i], e.ConversationID)
		assert.Equal(t, telemetry.HashConversationID(ids[i]), e.ConversationID)
		assert.Len(t, e.ConversationID, 16)
		_, err := router.ParseRoute(e.Route)
		assert.NoError(t, err)
		assert.NotNil(t, e.Tags)
	}
}

func TestAnalyzeSurvivesSinkFailures(t *testing.T) {
	for name, sink := range map[string]telemetry.Sink{"error": errSink{}, "panic": panicSink{}} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			reg := prometheus.NewRegistry()
			m := metrics.NewNavigator(reg)
			nav := New(nil, sink, WithLogger(zerolog.New(&buf)), WithMetrics(m), WithClock(clock))

			var res Result
			assert.NotPanics(t, func() {
				res = nav.Analyze(context.Background(), nil, "Привет", enabledCfg(), "conv")
			})
			assert.Equal(t, router.Template, res.Route)
			assert.Contains(t, buf.String(), "telemetry write failed")
			assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryErrors))
		})
	}
}

func TestAnalyzeGeneratorPanicDegrades(t *testing.T) {
	res := New(panicGen{}, nil, WithClock(clock)).Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv")
	assert.Equal(t, router.Fallback, res.Route)
	assert.Nil(t, res.Hint)
}

func TestAnalyzeNilGeneratorDegrades(t *testing.T) {
	res := New(nil, nil, WithClock(clock)).Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv")
	assert.Equal(t, router.Fallback, res.Route)
}

func TestAnalyzeRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewNavigator(reg)
	gen := &countingGen{hint: &slm.Hint{Hint: "Сначала проверьте сеть.", TokensIn: 100, TokensOut: 10}}
	nav := New(gen, nil, WithMetrics(m), WithClock(clock))

	nav.Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv-1")
	gen.hint = nil
	nav.Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv-2")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("SLM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("FALLBACK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SLMDegraded))
}

func TestAnalyzeRiskDetectorOption(t *testing.T) {
	pii := router.DetectorFunc(func(text string) bool { return strings.Contains(text, "паспорт") })
	nav := New(&countingGen{}, nil, WithClock(clock), WithRuleOptions(router.WithPIIDetector(pii)))

	res := nav.Analyze(context.Background(), nil, midBandQuestion+" паспорт", enabledCfg(), "conv")
	assert.Equal(t, router.Template, res.Route)
	assert.True(t, res.Metrics.Flags.RiskPII)
}

func TestAnalyzeModelName(t *testing.T) {
	sink := &memorySink{}
	New(&countingGen{}, sink, WithModelName("override"), WithClock(clock)).
		Analyze(context.Background(), nil, "Привет", enabledCfg(), "conv")
	New(&countingGen{}, sink, WithClock(clock)).
		Analyze(context.Background(), nil, "Привет", enabledCfg(), "conv")

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "override", events[0].Model)
	assert.Equal(t, "counting", events[1].Model)
}

func TestAnalyzeInvariantsAcrossInputs(t *testing.T) {
	gen := &countingGen{hint: &slm.Hint{Hint: "ok", TokensIn: 500, TokensOut: 500}}
	nav := New(gen, &memorySink{}, WithClock(clock))

	cfgs := []*config.NavigatorConfig{
		nil,
		enabledCfg(),
		{Thresholds: config.ThresholdsConfig{ComplexityLow: config.Float64(0.9), ComplexityHigh: config.Float64(0.1)}, Pricing: config.PricingConfig{InputPer1K: -3}},
	}
	messages := []string{"", "?", midBandQuestion, strings.Repeat("why? ", 300), "Привет"}

	for _, cfg := range cfgs {
		for _, msg := range messages {
			res := nav.Analyze(context.Background(), nil, msg, cfg, "conv")
			assert.True(t, res.Route.Valid())
			assert.GreaterOrEqual(t, res.Metrics.CostUSD, 0.0)
			assert.GreaterOrEqual(t, res.Metrics.TokensSavedEst, 0)
			assert.GreaterOrEqual(t, res.Complexity, 0.0)
			assert.LessOrEqual(t, res.Complexity, 1.0)
		}
	}
}

func TestAnalyzeConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav.jsonl")
	nav := New(slm.New(adapter.NewMockAdapter(), "mock-1"), telemetry.NewJSONLSink(path), WithClock(clock))

	const turns = 32
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nav.Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), fmt.Sprintf("conv-%d", i))
		}(i)
	}
	wg.Wait()

	events, err := telemetry.ReadJSONL(path)
	require.NoError(t, err)
	assert.Len(t, events, turns)
}

func TestResultJSON(t *testing.T) {
	gen := &countingGen{hint: &slm.Hint{Hint: "Начните с малого.", Focus: "план"}}
	res := New(gen, nil, WithClock(clock)).Analyze(context.Background(), nil, midBandQuestion, enabledCfg(), "conv")

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "SLM", raw["route"])
	assert.Equal(t, "Начните с малого.", raw["hint"])
	m, ok := raw["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 80.0, m["token_est"])
	assert.Equal(t, "план", m["focus"])
}
