package main

import (
	"fmt"

	"github.com/zen-systems/nanobot/pkg/adapter"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/metrics"
	"github.com/zen-systems/nanobot/pkg/navigator"
	"github.com/zen-systems/nanobot/pkg/slm"
	"github.com/zen-systems/nanobot/pkg/telemetry"
)

func createProviders(cfg *config.Config) (map[string]adapter.Provider, error) {
	providers := make(map[string]adapter.Provider)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		providers["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		providers["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		providers["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewCompatAdapter("deepseek", cfg.DeepSeekAPIKey, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		providers["deepseek"] = a
	}

	if cfg.CompatAPIKey != "" && cfg.CompatBaseURL != "" {
		a, err := adapter.NewCompatAdapter("compat", cfg.CompatAPIKey, cfg.CompatBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create compat adapter: %w", err)
		}
		providers["compat"] = a
	}

	ollama, err := adapter.NewOllamaAdapter(cfg.OllamaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama adapter: %w", err)
	}
	providers["ollama"] = ollama

	providers["mock"] = adapter.NewMockAdapter()

	return providers, nil
}

// buildNavigator wires the hint generator and telemetry sinks from config.
// A missing hint provider is not fatal: every SLM route then falls back.
// The hint deadline is not fixed here; Analyze applies the per-turn
// slm.timeout_seconds so a reloaded value takes effect.
func buildNavigator(cfg *config.Config, providers map[string]adapter.Provider, m *metrics.Navigator, noTelemetry bool) (*navigator.Navigator, telemetry.Sink, error) {
	nav := cfg.Navigator

	var gen navigator.HintGenerator
	if p, ok := providers[nav.SLM.Adapter]; ok {
		gen = slm.New(p, nav.SLM.Model,
			slm.WithAliases(aliases),
			slm.WithLimiter(slm.NewLimiter(nav.SLM.RequestsPerMinute)),
			slm.WithLogger(logger),
		)
	} else {
		logger.Warn().Str("adapter", nav.SLM.Adapter).Msg("hint adapter not available; SLM turns will fall back")
	}

	sink, err := buildSink(nav, noTelemetry)
	if err != nil {
		return nil, nil, err
	}

	opts := []navigator.Option{
		navigator.WithLogger(logger),
		navigator.WithMetrics(m),
	}
	if gen == nil {
		opts = append(opts, navigator.WithModelName(aliases.Resolve(nav.SLM.Model)))
	}
	return navigator.New(gen, sink, opts...), sink, nil
}

func buildSink(nav *config.NavigatorConfig, noTelemetry bool) (telemetry.Sink, error) {
	if noTelemetry {
		return telemetry.NopSink{}, nil
	}
	jsonl := telemetry.NewJSONLSink(nav.TelemetryPath())
	if nav.Telemetry.SQLitePath == "" {
		return jsonl, nil
	}
	db, err := telemetry.OpenSQLiteSink(nav.Telemetry.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	return telemetry.MultiSink{jsonl, db}, nil
}
