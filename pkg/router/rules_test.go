package router

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/nanobot/pkg/config"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() Option {
	return WithClock(func() time.Time { return fixedNow })
}

func at(offset time.Duration) *time.Time {
	ts := fixedNow.Add(-offset)
	return &ts
}

func defaultThresholds() Thresholds {
	return DefaultThresholds()
}

func TestEvaluate_GreetingIsTemplate(t *testing.T) {
	d := Evaluate("Привет", nil, defaultThresholds(), clock())

	assert.Equal(t, Template, d.Route)
	assert.Nil(t, d.Payload)
	assert.Less(t, d.Complexity, 0.30)
	assert.Equal(t, StageStart, d.Flags.Stage)
	assert.True(t, d.Flags.CooldownOK)
	assert.Equal(t, IdleSentinel, d.Metrics.IdleSec)
	assert.Equal(t, 6.0, d.Metrics.CharLen)
	assert.Equal(t, 2.0, d.Metrics.TokenEst)
	assert.Empty(t, d.Tags)
}

func TestEvaluate_RepeatInsideCooldownIsNoAction(t *testing.T) {
	history := []HistoryEntry{
		{Role: "user", Content: "где мой заказ", Timestamp: at(time.Second)},
	}
	th := Thresholds{CooldownSeconds: 5}

	d := Evaluate("где мой заказ", history, th, clock())

	assert.Equal(t, NoAction, d.Route)
	assert.False(t, d.Flags.CooldownOK)
	assert.InDelta(t, 1.0, d.Metrics.RepeatScore, 1e-9)
	assert.InDelta(t, 1.0, d.Metrics.IdleSec, 1e-6)
}

func TestEvaluate_MidBandQuestionIsSLM(t *testing.T) {
	msg := strings.TrimSpace(strings.Repeat("cat ", 79)) + " cat?"

	d := Evaluate(msg, nil, defaultThresholds(), clock())

	require.Equal(t, SLM, d.Route)
	assert.Equal(t, 80.0, d.Metrics.TokenEst)
	assert.Equal(t, 1.0, d.Metrics.QuestionCount)
	assert.InDelta(t, 80.0/120*0.35+0.20, d.Complexity, 1e-9)
	require.NotNil(t, d.Payload)
	assert.Equal(t, msg, d.Payload.Message)
	assert.Equal(t, hintMaxWords, d.Payload.Constraints.MaxWords)
	assert.Equal(t, "json", d.Payload.Constraints.Format)
}

func TestEvaluate_HeavyRepeatedGuidanceIsFallback(t *testing.T) {
	msg := strings.Repeat("how do i get this deployment to work? ", 30)
	history := []HistoryEntry{
		{Role: "user", Content: msg},
		{Role: "assistant", Content: "Try restarting the service."},
	}

	d := Evaluate(msg, history, defaultThresholds(), clock())

	assert.Equal(t, Fallback, d.Route)
	assert.Nil(t, d.Payload)
	assert.True(t, d.HasTag(TagGuidanceNeeded))
	assert.GreaterOrEqual(t, d.Complexity, 0.75)
	assert.InDelta(t, 1.0, d.Complexity, 1e-9)
}

func TestEvaluate_RiskDetectorsForceTemplate(t *testing.T) {
	msg := strings.Repeat("how do i get this deployment to work? ", 30)
	flag := DetectorFunc(func(string) bool { return true })

	d := Evaluate(msg, nil, defaultThresholds(), clock(), WithPIIDetector(flag))
	assert.Equal(t, Template, d.Route)
	assert.True(t, d.Flags.RiskPII)

	d = Evaluate(msg, nil, defaultThresholds(), clock(), WithToxicityDetector(flag))
	assert.Equal(t, Template, d.Route)
	assert.True(t, d.Flags.RiskToxic)
}

func TestEvaluate_Tags(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want []string
	}{
		{name: "russian urgency and issue", msg: "Срочно! Ошибка при оплате", want: []string{TagIssue, TagUrgency}},
		{name: "english issue", msg: "the build is broken again", want: []string{TagIssue}},
		{name: "russian guidance", msg: "Подскажи, что делать дальше", want: []string{TagGuidanceNeeded}},
		{name: "english guidance", msg: "How should I structure this?", want: []string{TagGuidanceNeeded}},
		{name: "all three", msg: "urgent: app crashes, help me", want: []string{TagGuidanceNeeded, TagIssue, TagUrgency}},
		{name: "none", msg: "nice weather today", want: []string{}},
		{name: "word boundary", msg: "terrorism debugger", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.msg, nil, defaultThresholds(), clock())
			if diff := cmp.Diff(tt.want, d.Tags); diff != "" {
				t.Errorf("tags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluate_Stage(t *testing.T) {
	twoUsers := []HistoryEntry{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "second question"},
	}

	tests := []struct {
		name    string
		msg     string
		history []HistoryEntry
		want    Stage
	}{
		{name: "no history", msg: "hello", want: StageStart},
		{name: "one prior user", msg: "hello", history: twoUsers[:2], want: StageStart},
		{name: "active", msg: "a different topic", history: twoUsers, want: StageActive},
		{name: "stuck pattern", msg: "я застрял на этом шаге", history: twoUsers, want: StageStuck},
		{name: "stuck english", msg: "I'm still confused", history: twoUsers, want: StageStuck},
		{name: "stuck repeat", msg: "second question", history: twoUsers, want: StageStuck},
		{
			name: "stuck idle",
			msg:  "back again",
			history: append(append([]HistoryEntry{}, twoUsers...),
				HistoryEntry{Role: "assistant", Content: "ok", Timestamp: at(20 * time.Minute)}),
			want: StageStuck,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.msg, tt.history, defaultThresholds(), clock())
			assert.Equal(t, tt.want, d.Flags.Stage)
		})
	}
}

func TestEvaluate_IdleUsesMostRecentTimestamp(t *testing.T) {
	history := []HistoryEntry{
		{Role: "user", Content: "a", Timestamp: at(time.Hour)},
		{Role: "assistant", Content: "b", Timestamp: at(30 * time.Second)},
		{Role: "user", Content: "c"},
	}
	d := Evaluate("d", history, defaultThresholds(), clock())
	assert.InDelta(t, 30.0, d.Metrics.IdleSec, 1e-6)
}

func TestEvaluate_RecentSummary(t *testing.T) {
	long := strings.Repeat("ж", 200)
	history := []HistoryEntry{
		{Role: "user", Content: "dropped"},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	msg := strings.TrimSpace(strings.Repeat("cat ", 79)) + " cat?"

	d := Evaluate(msg, history, defaultThresholds(), clock())
	require.NotNil(t, d.Payload)

	want := "user: one | assistant: " + strings.Repeat("ж", 120) + " | user: three | assistant: four"
	assert.Equal(t, want, d.Payload.RecentSummary)
}

func TestEvaluate_NormalizesMessage(t *testing.T) {
	msg := "  " + strings.Repeat("cat \n\t", 79) + "  cat?  "
	d := Evaluate(msg, nil, defaultThresholds(), clock())
	require.NotNil(t, d.Payload)
	assert.Equal(t, strings.TrimSpace(strings.Repeat("cat ", 79))+" cat?", d.Payload.Message)
}

func TestEvaluate_RouteAlwaysValidAndComplexityClamped(t *testing.T) {
	messages := []string{
		"",
		"   ",
		"?",
		strings.Repeat("?", 500),
		strings.Repeat("срочно помоги ошибка ", 200),
		"ok",
		"😀😀😀",
	}
	histories := [][]HistoryEntry{
		nil,
		{{Role: "user", Content: "?"}},
		{{Role: "user", Content: strings.Repeat("срочно помоги ошибка ", 200), Timestamp: at(0)}},
	}
	thresholds := []Thresholds{
		{},
		{ComplexityLow: 0.9, ComplexityHigh: 0.1},
		{ComplexityLow: 0.05, ComplexityHigh: 0.06, CooldownSeconds: 0.5},
	}

	for _, msg := range messages {
		for _, h := range histories {
			for _, th := range thresholds {
				d := Evaluate(msg, h, th, clock())
				assert.True(t, d.Route.Valid())
				assert.GreaterOrEqual(t, d.Complexity, 0.0)
				assert.LessOrEqual(t, d.Complexity, 1.0)
				assert.Equal(t, d.Route == SLM, d.Payload != nil)
			}
		}
	}
}

func TestThresholdsBand(t *testing.T) {
	th := Thresholds{ComplexityLow: 0.6, ComplexityHigh: 0.3}.normalized()
	assert.InDelta(t, 0.6, th.ComplexityLow, 1e-9)
	assert.InDelta(t, 0.7, th.ComplexityHigh, 1e-9)
	assert.Zero(t, th.CooldownSeconds)

	th = Thresholds{ComplexityLow: -1, CooldownSeconds: -3}.normalized()
	assert.InDelta(t, config.DefaultComplexityLow, th.ComplexityLow, 1e-9)
	assert.InDelta(t, config.MinComplexityBand+config.DefaultComplexityLow, th.ComplexityHigh, 1e-9)
	assert.InDelta(t, config.DefaultCooldownSeconds, th.CooldownSeconds, 1e-9)
}

func TestEvaluate_ZeroCooldownAnswersQuickTurns(t *testing.T) {
	cfg, err := config.ParseNavigatorConfig([]byte("navigator:\n  enabled: true\n  cooldown_seconds: 0\n  thresholds:\n    complexity_low: 0\n"))
	require.NoError(t, err)
	history := []HistoryEntry{
		{Role: "user", Content: "как дела", Timestamp: at(time.Second)},
	}

	th := ThresholdsFrom(cfg)
	d := Evaluate("Привет", history, th, clock())

	assert.Zero(t, th.CooldownSeconds)
	assert.Zero(t, th.ComplexityLow)
	assert.True(t, d.Flags.CooldownOK)
	assert.NotEqual(t, NoAction, d.Route)

	d = Evaluate("Привет", history, DefaultThresholds(), clock())
	assert.Equal(t, NoAction, d.Route)
}

func TestRuleDecisionJSON(t *testing.T) {
	msg := strings.TrimSpace(strings.Repeat("cat ", 79)) + " cat?"
	d := Evaluate(msg, nil, defaultThresholds(), clock())

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "SLM", raw["route"])
	payload, ok := raw["llm_payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "start", payload["stage"])
}

func TestQuestionCount(t *testing.T) {
	tests := []struct {
		msg  string
		want float64
	}{
		{"как дела", 0},
		{"как дела?", 1},
		{"что? где? когда?", 3},
		{"как дела？", 0},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			d := Evaluate(tt.msg, nil, defaultThresholds(), clock())
			assert.Equal(t, tt.want, d.Metrics.QuestionCount)
		})
	}
}
