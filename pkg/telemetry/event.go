// Package telemetry records one decision event per navigator turn.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event is the persisted record of one navigator decision.
type Event struct {
	TS              time.Time `json:"ts"`
	ConversationID  string    `json:"conversation_id"`
	Route           string    `json:"route"`
	ComplexityScore float64   `json:"complexity_score"`
	Tags            []string  `json:"tags"`
	Model           string    `json:"model"`
	TokensIn        int       `json:"tokens_in"`
	TokensOut       int       `json:"tokens_out"`
	LatencyMS       float64   `json:"latency_ms"`
	CostUSD         float64   `json:"cost_usd"`
	TokensSavedEst  int       `json:"tokens_saved_est"`
}

// Sink persists events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
}

// HashConversationID returns the first 16 hex chars of sha256(id). Raw ids
// never reach a sink.
func HashConversationID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}

// NopSink discards every event.
type NopSink struct{}

// Write does nothing.
func (NopSink) Write(context.Context, Event) error { return nil }

// Close does nothing.
func (NopSink) Close() error { return nil }
