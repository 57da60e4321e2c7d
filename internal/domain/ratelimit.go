package domain

import "time"

// RateLimitSnapshot is the singleton row caching the agent CLI's last known
// usage-cache reading.
type RateLimitSnapshot struct {
	Tier        string    `json:"tier"`
	MessagesUsed int      `json:"messages_used"`
	MessagesLimit int     `json:"messages_limit"`
	PercentUsed float64   `json:"percent_used"`
	IsLimited   bool      `json:"is_limited"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
	Raw         string    `json:"raw,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UnknownRateLimit returns the zero-information snapshot returned when the usage cache is
// missing or malformed — never an error per spec.md §4.7.
func UnknownRateLimit() RateLimitSnapshot {
	return RateLimitSnapshot{Tier: "unknown", IsLimited: false}
}

// IsUnknown reports whether this snapshot carries no real usage-cache
// reading (missing or malformed cache file), as opposed to a genuine
// not-limited reading from a present cache.
func (s RateLimitSnapshot) IsUnknown() bool {
	return s.Tier == "unknown"
}
