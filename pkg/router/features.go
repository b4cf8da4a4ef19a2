package router

import (
	"math"
	"strings"
	"time"
)

const (
	// IdleSentinel is reported when no history entry carries a timestamp.
	IdleSentinel = 9999.0

	summaryEntries   = 4
	summaryEntryRune = 120
)

// HistoryEntry is one prior turn, oldest first.
type HistoryEntry struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Normalize collapses runs of whitespace and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func previousUserMessage(history []HistoryEntry) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

func priorUserTurns(history []HistoryEntry) int {
	n := 0
	for _, h := range history {
		if h.Role == "user" {
			n++
		}
	}
	return n
}

// idleSeconds measures time since the most recent timestamped entry.
func idleSeconds(history []HistoryEntry, now time.Time) float64 {
	for i := len(history) - 1; i >= 0; i-- {
		ts := history[i].Timestamp
		if ts == nil || ts.IsZero() {
			continue
		}
		idle := now.UTC().Sub(ts.UTC()).Seconds()
		if idle < 0 {
			return 0
		}
		return idle
	}
	return IdleSentinel
}

// tokenEstimate is max(words, round(runes/4)), a cheap stand-in for a tokenizer.
func tokenEstimate(s string) int {
	words := len(strings.Fields(s))
	chars := int(math.Round(float64(len([]rune(s))) / 4))
	if chars > words {
		return chars
	}
	return words
}

func questionCount(s string) int {
	return strings.Count(s, "?")
}

func recentSummary(history []HistoryEntry) string {
	start := len(history) - summaryEntries
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, len(history)-start)
	for _, h := range history[start:] {
		parts = append(parts, h.Role+": "+truncateRunes(h.Content, summaryEntryRune))
	}
	return strings.Join(parts, " | ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
