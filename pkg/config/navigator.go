package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Navigator defaults.
const (
	DefaultComplexityLow     = 0.30
	DefaultComplexityHigh    = 0.75
	MinComplexityBand        = 0.10
	DefaultCooldownSeconds   = 2.0
	DefaultSLMTimeoutSeconds = 2.0
	DefaultTelemetryPath     = "logs/navigator_pilot.jsonl"
	ModeHybrid               = "hybrid"
)

// NavigatorConfig is the routing config surface consumed by the navigator.
// Accessors apply defaults at every read site. Tunables that may legitimately
// be zero are pointers: nil means unset, an explicit 0 is kept.
type NavigatorConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Mode            string           `yaml:"mode"`
	CanaryPercent   int              `yaml:"canary_percent"`
	Thresholds      ThresholdsConfig `yaml:"thresholds"`
	CooldownSeconds *float64         `yaml:"cooldown_seconds,omitempty"`
	Pricing         PricingConfig    `yaml:"pricing"`
	SLM             SLMConfig        `yaml:"slm"`
	Telemetry       TelemetryConfig  `yaml:"telemetry"`
	Agent           AgentConfig      `yaml:"agent"`
}

// ThresholdsConfig bounds the complexity bands.
type ThresholdsConfig struct {
	ComplexityLow  *float64 `yaml:"complexity_low,omitempty"`
	ComplexityHigh *float64 `yaml:"complexity_high,omitempty"`
}

// PricingConfig holds per-1k token rates for the hint model.
type PricingConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// SLMConfig selects the small model used for hints.
type SLMConfig struct {
	Adapter           string  `yaml:"adapter"`
	Model             string  `yaml:"model"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

// TelemetryConfig controls where decision events go.
type TelemetryConfig struct {
	Path       string `yaml:"path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// AgentConfig selects the full agent model used on FALLBACK.
type AgentConfig struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

type routingFile struct {
	Navigator *NavigatorConfig `yaml:"navigator"`
}

// LoadNavigatorConfig reads the navigator block from a YAML routing file.
func LoadNavigatorConfig(path string) (*NavigatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseNavigatorConfig(data)
}

// ParseNavigatorConfig decodes YAML routing config. Malformed values inside
// the navigator block degrade to defaults instead of failing the load.
func ParseNavigatorConfig(data []byte) (*NavigatorConfig, error) {
	var file routingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Navigator == nil {
		return DefaultNavigatorConfig(), nil
	}
	applyNavigatorDefaults(file.Navigator)
	return file.Navigator, nil
}

// DefaultNavigatorConfig returns a disabled navigator with default tuning.
func DefaultNavigatorConfig() *NavigatorConfig {
	cfg := &NavigatorConfig{
		Enabled: false,
		Mode:    ModeHybrid,
		SLM: SLMConfig{
			Adapter: "openai",
			Model:   "gpt-4o-mini",
		},
		Agent: AgentConfig{
			Adapter: "anthropic",
			Model:   "claude-sonnet-4-20250514",
		},
	}
	applyNavigatorDefaults(cfg)
	return cfg
}

// UnmarshalYAML decodes the navigator block leniently.
func (c *NavigatorConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		// Not a mapping: behave as if the block were absent.
		*c = NavigatorConfig{}
		return nil
	}

	thresholds := subMap(raw, "thresholds")
	pricing := subMap(raw, "pricing")
	slm := subMap(raw, "slm")
	telemetry := subMap(raw, "telemetry")
	agent := subMap(raw, "agent")

	*c = NavigatorConfig{
		Enabled:       asBool(raw["enabled"], false),
		Mode:          asString(raw["mode"], ""),
		CanaryPercent: int(asFloat(raw["canary_percent"], 0)),
		Thresholds: ThresholdsConfig{
			ComplexityLow:  optFloat(thresholds, "complexity_low"),
			ComplexityHigh: optFloat(thresholds, "complexity_high"),
		},
		CooldownSeconds: optFloat(raw, "cooldown_seconds"),
		Pricing: PricingConfig{
			InputPer1K:  asFloat(pricing["input_per_1k"], 0),
			OutputPer1K: asFloat(pricing["output_per_1k"], 0),
		},
		SLM: SLMConfig{
			Adapter:           asString(slm["adapter"], ""),
			Model:             asString(slm["model"], ""),
			TimeoutSeconds:    asFloat(slm["timeout_seconds"], 0),
			RequestsPerMinute: asFloat(slm["requests_per_minute"], 0),
		},
		Telemetry: TelemetryConfig{
			Path:       asString(telemetry["path"], ""),
			SQLitePath: asString(telemetry["sqlite_path"], ""),
		},
		Agent: AgentConfig{
			Adapter: asString(agent["adapter"], ""),
			Model:   asString(agent["model"], ""),
		},
	}
	return nil
}

func applyNavigatorDefaults(cfg *NavigatorConfig) {
	if cfg == nil {
		return
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	if cfg.Telemetry.Path == "" {
		cfg.Telemetry.Path = DefaultTelemetryPath
	}
	if cfg.SLM.TimeoutSeconds <= 0 {
		cfg.SLM.TimeoutSeconds = DefaultSLMTimeoutSeconds
	}
}

// IsHybrid reports whether the configured mode activates the navigator.
func (c *NavigatorConfig) IsHybrid() bool {
	if c == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(c.Mode), ModeHybrid)
}

// ComplexityBounds returns the low/high complexity thresholds and coerces
// high to at least low + MinComplexityBand. Unset, negative or non-finite
// values fall back to the defaults; an explicit 0 is honored.
func (c *NavigatorConfig) ComplexityBounds() (low, high float64) {
	low, high = DefaultComplexityLow, DefaultComplexityHigh
	if c != nil {
		low = orDefault(c.Thresholds.ComplexityLow, DefaultComplexityLow)
		high = orDefault(c.Thresholds.ComplexityHigh, DefaultComplexityHigh)
	}
	if high < low+MinComplexityBand {
		high = low + MinComplexityBand
	}
	return low, high
}

// Cooldown returns the minimum idle time between turns. 0 disables it.
func (c *NavigatorConfig) Cooldown() float64 {
	if c == nil {
		return DefaultCooldownSeconds
	}
	return orDefault(c.CooldownSeconds, DefaultCooldownSeconds)
}

// Float64 returns a pointer to v, for building configs in code.
func Float64(v float64) *float64 {
	return &v
}

func orDefault(v *float64, def float64) float64 {
	if v == nil || !finite(*v) || *v < 0 {
		return def
	}
	return *v
}

// Rates returns the per-1k input and output prices, never negative.
func (c *NavigatorConfig) Rates() (input, output float64) {
	if c == nil {
		return 0, 0
	}
	return nonNegative(c.Pricing.InputPer1K), nonNegative(c.Pricing.OutputPer1K)
}

// SLMTimeout returns the hard deadline for a hint call.
func (c *NavigatorConfig) SLMTimeout() time.Duration {
	secs := DefaultSLMTimeoutSeconds
	if c != nil && finite(c.SLM.TimeoutSeconds) && c.SLM.TimeoutSeconds > 0 {
		secs = c.SLM.TimeoutSeconds
	}
	return time.Duration(secs * float64(time.Second))
}

// TelemetryPath returns the JSONL event log location.
func (c *NavigatorConfig) TelemetryPath() string {
	if c == nil || strings.TrimSpace(c.Telemetry.Path) == "" {
		return DefaultTelemetryPath
	}
	return c.Telemetry.Path
}

func subMap(raw map[string]any, key string) map[string]any {
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// optFloat returns nil when key is missing or not numeric.
func optFloat(raw map[string]any, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	f := asFloat(v, math.NaN())
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func asFloat(v any, def float64) float64 {
	var f float64
	switch val := v.(type) {
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if !finite(f) {
		return def
	}
	return f
}

func asBool(v any, def bool) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return def
		}
		return parsed
	case int:
		return val != 0
	default:
		return def
	}
}

func asString(v any, def string) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return def
	default:
		return fmt.Sprint(val)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func nonNegative(f float64) float64 {
	if !finite(f) || f < 0 {
		return 0
	}
	return f
}
