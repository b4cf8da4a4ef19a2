package telemetry

import (
	"math"
	"sort"
)

// Summary aggregates a batch of events.
type Summary struct {
	Total            int            `json:"total"`
	ByRoute          map[string]int `json:"by_route"`
	TagCounts        map[string]int `json:"tag_counts"`
	TokensIn         int            `json:"tokens_in"`
	TokensOut        int            `json:"tokens_out"`
	TotalCostUSD     float64        `json:"total_cost_usd"`
	TotalTokensSaved int            `json:"total_tokens_saved"`
	MeanComplexity   float64        `json:"mean_complexity"`
	MeanSLMLatencyMS float64        `json:"mean_slm_latency_ms"`
	// HintRate is SLM / (SLM + FALLBACK): how often a turn that needed a
	// model was served by a hint instead of the full agent.
	HintRate float64 `json:"hint_rate"`
}

// Summarize folds events into a Summary.
func Summarize(events []Event) Summary {
	s := Summary{
		ByRoute:   make(map[string]int),
		TagCounts: make(map[string]int),
	}

	var complexity, slmLatency float64
	for _, e := range events {
		s.Total++
		s.ByRoute[e.Route]++
		for _, tag := range e.Tags {
			s.TagCounts[tag]++
		}
		s.TokensIn += e.TokensIn
		s.TokensOut += e.TokensOut
		s.TotalCostUSD += e.CostUSD
		s.TotalTokensSaved += e.TokensSavedEst
		complexity += e.ComplexityScore
		if e.Route == "SLM" {
			slmLatency += e.LatencyMS
		}
	}

	if s.Total > 0 {
		s.MeanComplexity = round(complexity/float64(s.Total), 4)
	}
	if n := s.ByRoute["SLM"]; n > 0 {
		s.MeanSLMLatencyMS = round(slmLatency/float64(n), 2)
	}
	if n := s.ByRoute["SLM"] + s.ByRoute["FALLBACK"]; n > 0 {
		s.HintRate = round(float64(s.ByRoute["SLM"])/float64(n), 4)
	}
	s.TotalCostUSD = round(s.TotalCostUSD, 7)
	return s
}

// Routes returns the route names present in the summary, sorted.
func (s Summary) Routes() []string {
	routes := make([]string, 0, len(s.ByRoute))
	for r := range s.ByRoute {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
