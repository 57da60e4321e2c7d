// Package ratelimit reads the agent CLI's local usage cache file. A missing
// or malformed cache is never an error — it yields an unknown snapshot and a
// warning, mirroring the teacher's tolerant config-file loading in
// internal/config (LoadSettings never panics on a missing/bad file, it falls
// back to zero values).
package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// cacheLayout mirrors the subset of the agent CLI's usage-cache JSON this
// probe understands. Unknown fields are ignored.
type cacheLayout struct {
	Tier          string  `json:"tier"`
	MessagesUsed  int     `json:"messages_used"`
	MessagesLimit int     `json:"messages_limit"`
	IsLimited     bool    `json:"is_limited"`
	ResetAt       string  `json:"reset_at"`
}

// DefaultCachePath returns the agent CLI's well-known usage cache location,
// ~/.claude/usage_cache.json, overridable via AGENTQUEUE_RATE_LIMIT_CACHE.
func DefaultCachePath() string {
	if v := os.Getenv("AGENTQUEUE_RATE_LIMIT_CACHE"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "usage_cache.json")
}

// Probe reads the usage cache at path. Probe returns no error: an empty
// path, any read failure (missing file, permissions problem) or a malformed
// file yields the unknown snapshot, which the caller reports as a warning.
func Probe(path string) domain.RateLimitSnapshot {
	if path == "" {
		return domain.UnknownRateLimit()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.UnknownRateLimit()
	}

	var c cacheLayout
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.UnknownRateLimit()
	}

	snap := domain.RateLimitSnapshot{
		Tier:          c.Tier,
		MessagesUsed:  c.MessagesUsed,
		MessagesLimit: c.MessagesLimit,
		IsLimited:     c.IsLimited,
		Raw:           string(raw),
		UpdatedAt:     time.Now().UTC(),
	}
	if snap.Tier == "" {
		snap.Tier = "unknown"
	}
	if c.MessagesLimit > 0 {
		snap.PercentUsed = float64(c.MessagesUsed) / float64(c.MessagesLimit) * 100
	}
	if c.ResetAt != "" {
		if parsed, err := time.Parse(time.RFC3339, c.ResetAt); err == nil {
			snap.ResetAt = &parsed
		}
	}
	return snap
}
