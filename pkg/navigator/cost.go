package navigator

import "math"

// Baseline for a full-agent turn: max(savingsFloor, tokenEst+savingsOverhead).
const (
	savingsFloor    = 80
	savingsOverhead = 40
)

// EstimateCost prices a hint call at per-1k token rates, rounded to 7 decimals.
func EstimateCost(tokensIn, tokensOut int, inputPer1K, outputPer1K float64) float64 {
	promptCost := (float64(max(tokensIn, 0)) / 1000.0) * math.Max(inputPer1K, 0)
	completionCost := (float64(max(tokensOut, 0)) / 1000.0) * math.Max(outputPer1K, 0)
	total := promptCost + completionCost
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return 0
	}
	return math.Round(total*1e7) / 1e7
}

// EstimateTokensSaved approximates what a full-agent call would have cost,
// max(80, tokenEst+40), minus the tokens the hint actually spent. It is an
// estimate, never negative.
func EstimateTokensSaved(tokenEst, tokensIn, tokensOut int) int {
	baseline := max(savingsFloor, tokenEst+savingsOverhead)
	return max(0, baseline-(max(tokensIn, 0)+max(tokensOut, 0)))
}
