package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// GenerateEventID returns a globally unique external event identifier.
func GenerateEventID() string { return generatePrefixedID("evt") }

// AppendEvent inserts an event and returns the assigned internal id. Safe to
// call inside an existing transaction (pass tx) or directly against db.
func AppendEvent(q Querier, evt *domain.Event) (int64, error) {
	if evt.ExternalID == "" {
		evt.ExternalID = GenerateEventID()
	}
	payload := evt.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	res, err := q.Exec(`
		INSERT INTO events (external_id, event_type, entity_type, entity_id, payload)
		VALUES (?, ?, ?, ?, ?)`,
		evt.ExternalID, evt.Kind, evt.EntityType, evt.EntityID, string(payload))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEventsSince returns events with id > afterID, oldest first, up to
// limit rows. Used to back-fill SSE subscribers that dropped events.
func ListEventsSince(db *sql.DB, afterID int64, limit int) ([]*domain.Event, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, external_id, event_type, entity_type, entity_id, payload, created_at
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Event
	for rows.Next() {
		var e domain.Event
		var payload, createdAt string
		if err := rows.Scan(&e.ID, &e.ExternalID, &e.Kind, &e.EntityType, &e.EntityID, &payload, &createdAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = parsed
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
