// Package metrics exposes Prometheus collectors for navigator decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Navigator groups the navigator collectors. A nil *Navigator is valid and
// records nothing.
type Navigator struct {
	Decisions       *prometheus.CounterVec
	SLMDegraded     prometheus.Counter
	SLMLatency      prometheus.Histogram
	Complexity      prometheus.Histogram
	CostUSD         prometheus.Counter
	TokensSaved     prometheus.Counter
	TelemetryErrors prometheus.Counter
}

// Observation is one analyzed turn.
type Observation struct {
	Route       string
	Complexity  float64
	Degraded    bool
	SLMCalled   bool
	LatencyMS   float64
	CostUSD     float64
	TokensSaved int
}

// NewNavigator registers the collectors with reg.
func NewNavigator(reg prometheus.Registerer) *Navigator {
	f := promauto.With(reg)
	return &Navigator{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nanobot_navigator_decisions_total",
				Help: "Navigator decisions by final route",
			},
			[]string{"route"},
		),
		SLMDegraded: f.NewCounter(
			prometheus.CounterOpts{
				Name: "nanobot_navigator_slm_degraded_total",
				Help: "SLM routes downgraded to FALLBACK after a failed hint call",
			},
		),
		SLMLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nanobot_navigator_slm_latency_seconds",
				Help:    "Latency of successful hint calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		Complexity: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nanobot_navigator_complexity",
				Help:    "Rule engine complexity score",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		CostUSD: f.NewCounter(
			prometheus.CounterOpts{
				Name: "nanobot_navigator_cost_usd_total",
				Help: "Estimated spend on hint calls in USD",
			},
		),
		TokensSaved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "nanobot_navigator_tokens_saved_total",
				Help: "Estimated tokens saved by serving hints instead of the full agent",
			},
		),
		TelemetryErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "nanobot_navigator_telemetry_errors_total",
				Help: "Telemetry writes that failed",
			},
		),
	}
}

// Observe records one turn.
func (m *Navigator) Observe(o Observation) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(o.Route).Inc()
	m.Complexity.Observe(o.Complexity)
	if o.Degraded {
		m.SLMDegraded.Inc()
	}
	if o.SLMCalled && !o.Degraded {
		m.SLMLatency.Observe(o.LatencyMS / 1000)
	}
	if o.CostUSD > 0 {
		m.CostUSD.Add(o.CostUSD)
	}
	if o.TokensSaved > 0 {
		m.TokensSaved.Add(float64(o.TokensSaved))
	}
}

// TelemetryError counts a failed sink write.
func (m *Navigator) TelemetryError() {
	if m == nil {
		return
	}
	m.TelemetryErrors.Inc()
}
