package navigator

import "github.com/zen-systems/nanobot/pkg/router"

// Result is what the caller receives for one turn.
type Result struct {
	Route      router.Route  `json:"route"`
	Hint       *string       `json:"hint"`
	Metrics    ResultMetrics `json:"metrics"`
	Complexity float64       `json:"complexity"`
}

// ResultMetrics merges rule-engine features with the cost of the turn.
type ResultMetrics struct {
	router.Metrics
	Tags           []string     `json:"tags"`
	Flags          router.Flags `json:"flags"`
	Focus          string       `json:"focus,omitempty"`
	TokensIn       int          `json:"tokens_in"`
	TokensOut      int          `json:"tokens_out"`
	LatencyMS      float64      `json:"latency_ms"`
	CostUSD        float64      `json:"cost_usd"`
	TokensSavedEst int          `json:"tokens_saved_est"`
}

// HintText returns the hint or "" when there is none.
func (r Result) HintText() string {
	if r.Hint == nil {
		return ""
	}
	return *r.Hint
}
