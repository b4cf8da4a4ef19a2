package router

import (
	"regexp"
	"sort"

	"github.com/zen-systems/nanobot/pkg/config"
)

// Tag names emitted by the rule engine.
const (
	TagUrgency        = "urgency"
	TagIssue          = "issue"
	TagGuidanceNeeded = "guidance_needed"
)

// Complexity weights and the thresholds behind stage detection.
const (
	weightLength   = 0.35
	weightQuestion = 0.20
	weightRepeat   = 0.20
	weightGuidance = 0.25

	lengthSaturation = 120.0
	repeatThreshold  = 0.90
	stuckIdleSeconds = 600.0
	hintMaxWords     = 40
)

// TagPattern pairs a tag with one of the expressions that fires it.
type TagPattern struct {
	Tag     string
	Pattern *regexp.Regexp
}

// RE2's \b is ASCII-only, so Cyrillic stems are matched as plain substrings.
var tagPatterns = []TagPattern{
	{TagUrgency, regexp.MustCompile(`(?i)срочн|немедленн|как можно скорее|горит|\b(urgent|urgently|asap|immediately|right now)\b`)},
	{TagIssue, regexp.MustCompile(`(?i)ошибк|не работает|сломал|падает|баг|исключени|\b(error|errors|bug|broken|crash|crashes|fails?|failing|exception|traceback)\b`)},
	{TagGuidanceNeeded, regexp.MustCompile(`(?i)как мне|как лучше|что делать|что мне делать|подскаж|посоветуй|помоги|объясни|пошагов|\b(how (do|can|should) i|what should i|help me|explain|step by step|guide me|advice)\b`)},
}

var stuckPattern = regexp.MustCompile(`(?i)застрял|не получается|не понимаю|запутал|тупик|\b(stuck|blocked|confused|can'?t figure|don'?t understand|no idea)\b`)

// TagPatterns returns a copy of the tag table.
func TagPatterns() []TagPattern {
	out := make([]TagPattern, len(tagPatterns))
	copy(out, tagPatterns)
	return out
}

func detectTags(text string) []string {
	seen := make(map[string]bool)
	tags := make([]string, 0, len(tagPatterns))
	for _, p := range tagPatterns {
		if seen[p.Tag] {
			continue
		}
		if p.Pattern.MatchString(text) {
			seen[p.Tag] = true
			tags = append(tags, p.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// Thresholds are the resolved numeric knobs for Evaluate.
type Thresholds struct {
	ComplexityLow   float64
	ComplexityHigh  float64
	CooldownSeconds float64
}

// ThresholdsFrom resolves thresholds from navigator config with defaults applied.
func ThresholdsFrom(cfg *config.NavigatorConfig) Thresholds {
	low, high := cfg.ComplexityBounds()
	return Thresholds{
		ComplexityLow:   low,
		ComplexityHigh:  high,
		CooldownSeconds: cfg.Cooldown(),
	}
}

// DefaultThresholds returns the thresholds of an unconfigured navigator.
func DefaultThresholds() Thresholds {
	return ThresholdsFrom(nil)
}

// normalized enforces the minimum band between low and high. Zero values are
// kept as given; only negative or non-finite ones fall back to defaults.
func (t Thresholds) normalized() Thresholds {
	c := &config.NavigatorConfig{
		Thresholds: config.ThresholdsConfig{
			ComplexityLow:  config.Float64(t.ComplexityLow),
			ComplexityHigh: config.Float64(t.ComplexityHigh),
		},
		CooldownSeconds: config.Float64(t.CooldownSeconds),
	}
	return ThresholdsFrom(c)
}

// Evaluate runs the rule engine over one turn. It is pure apart from the
// clock and performs no I/O.
func Evaluate(message string, history []HistoryEntry, th Thresholds, opts ...Option) RuleDecision {
	o := defaultEvalOptions()
	for _, opt := range opts {
		opt(&o)
	}
	th = th.normalized()

	msg := Normalize(message)
	prev := Normalize(previousUserMessage(history))
	repeat := SimilarityRatio(msg, prev)
	idle := idleSeconds(history, o.now())
	tokens := tokenEstimate(msg)
	questions := questionCount(msg)
	tags := detectTags(msg)

	metrics := Metrics{
		CharLen:       float64(len([]rune(msg))),
		TokenEst:      float64(tokens),
		IdleSec:       idle,
		QuestionCount: float64(questions),
		RepeatScore:   repeat,
	}

	stage := StageActive
	switch {
	case priorUserTurns(history) < 2:
		stage = StageStart
	case repeat > repeatThreshold || idle > stuckIdleSeconds || stuckPattern.MatchString(msg):
		stage = StageStuck
	}

	flags := Flags{
		RiskPII:    o.pii.Assess(msg),
		RiskToxic:  o.toxic.Assess(msg),
		Stage:      stage,
		CooldownOK: idle >= th.CooldownSeconds,
	}

	decision := RuleDecision{
		Tags:    tags,
		Flags:   flags,
		Metrics: metrics,
	}
	decision.Complexity = complexityScore(tokens, questions, repeat, decision.HasTag(TagGuidanceNeeded))

	switch {
	case !flags.CooldownOK:
		decision.Route = NoAction
	case flags.RiskPII || flags.RiskToxic || decision.Complexity < th.ComplexityLow:
		decision.Route = Template
	case decision.Complexity < th.ComplexityHigh:
		decision.Route = SLM
		decision.Payload = buildPayload(msg, tags, stage, metrics, history)
	default:
		decision.Route = Fallback
	}

	return decision
}

func complexityScore(tokens, questions int, repeat float64, guidance bool) float64 {
	length := float64(tokens) / lengthSaturation
	if length > 1 {
		length = 1
	}
	score := length * weightLength
	if questions > 0 {
		score += weightQuestion
	}
	if repeat > repeatThreshold {
		score += weightRepeat
	}
	if guidance {
		score += weightGuidance
	}
	return clamp01(score)
}

func buildPayload(msg string, tags []string, stage Stage, m Metrics, history []HistoryEntry) *LLMPayload {
	payloadTags := make([]string, len(tags))
	copy(payloadTags, tags)
	return &LLMPayload{
		Message: msg,
		Tags:    payloadTags,
		Stage:   stage,
		Metrics: Metrics{
			CharLen:       m.CharLen,
			TokenEst:      m.TokenEst,
			IdleSec:       round(m.IdleSec, 1),
			QuestionCount: m.QuestionCount,
			RepeatScore:   round(m.RepeatScore, 3),
		},
		RecentSummary: recentSummary(history),
		Constraints: Constraints{
			Language: "ru",
			Tone:     "calm, actionable",
			MaxWords: hintMaxWords,
			Format:   "json",
		},
	}
}
