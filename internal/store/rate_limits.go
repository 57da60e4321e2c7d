package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// SaveRateLimitSnapshot upserts the singleton rate-limit cache row. Called by
// the Heartbeat after every probe, regardless of whether anything subscribes.
func SaveRateLimitSnapshot(db *sql.DB, snap domain.RateLimitSnapshot) error {
	var resetAt sql.NullString
	if snap.ResetAt != nil {
		resetAt = sql.NullString{String: snap.ResetAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	isLimited := 0
	if snap.IsLimited {
		isLimited = 1
	}
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO rate_limits (id, tier, messages_used, messages_limit, percent_used, is_limited, reset_at, raw, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier, messages_used = excluded.messages_used,
			messages_limit = excluded.messages_limit, percent_used = excluded.percent_used,
			is_limited = excluded.is_limited, reset_at = excluded.reset_at,
			raw = excluded.raw, updated_at = excluded.updated_at`,
		snap.Tier, snap.MessagesUsed, snap.MessagesLimit, snap.PercentUsed, isLimited, resetAt, snap.Raw,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetRateLimitSnapshot returns the cached probe result, or the unknown
// snapshot if none has ever been saved.
func GetRateLimitSnapshot(db *sql.DB) (domain.RateLimitSnapshot, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT tier, messages_used, messages_limit, percent_used, is_limited, reset_at, raw, updated_at
		FROM rate_limits WHERE id = 1`)

	var snap domain.RateLimitSnapshot
	var isLimited int
	var resetAt, updatedAt sql.NullString
	err := row.Scan(&snap.Tier, &snap.MessagesUsed, &snap.MessagesLimit, &snap.PercentUsed,
		&isLimited, &resetAt, &snap.Raw, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.UnknownRateLimit(), nil
	}
	if err != nil {
		return domain.RateLimitSnapshot{}, err
	}
	snap.IsLimited = isLimited != 0
	snap.ResetAt = scanNullTime(resetAt)
	if parsed, perr := time.Parse(time.RFC3339Nano, updatedAt.String); perr == nil {
		snap.UpdatedAt = parsed
	}
	return snap, nil
}
