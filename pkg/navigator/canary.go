package navigator

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/zen-systems/nanobot/pkg/config"
)

// Bucket maps a conversation id to a stable value in [0, 100): the first
// 8 hex chars of sha256(id), read as an integer, mod 100.
func Bucket(conversationID string) int {
	sum := sha256.Sum256([]byte(conversationID))
	prefix := hex.EncodeToString(sum[:])[:8]
	n, _ := strconv.ParseUint(prefix, 16, 64)
	return int(n % 100)
}

// ShouldRun is the cheap gate evaluated before Analyze. The navigator must
// be enabled and in hybrid mode. A canary of 0 or less means unrestricted,
// not disabled; 100 or more admits everyone; anything between admits the
// conversations whose Bucket falls below it.
func ShouldRun(conversationID string, cfg *config.NavigatorConfig) bool {
	if cfg == nil || !cfg.Enabled || !cfg.IsHybrid() {
		return false
	}
	if cfg.CanaryPercent <= 0 || cfg.CanaryPercent >= 100 {
		return true
	}
	return Bucket(conversationID) < cfg.CanaryPercent
}
