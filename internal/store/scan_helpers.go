package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

func scanNullString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func scanNullTime(t sql.NullString) *time.Time {
	if !t.Valid || t.String == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, t.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func scanNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	val := v.Int64
	return &val
}

func scanNullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	val := int(v.Int64)
	return &val
}

func decodeMetadata(raw string) (domain.Metadata, error) {
	if raw == "" {
		return domain.Metadata{}, nil
	}
	var m domain.Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = domain.Metadata{}
	}
	return m, nil
}

func encodeMetadata(m domain.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// taskRow is the scan target for a tasks table row, hydrated into domain.Task.
type taskRow struct {
	id                int64
	externalID        string
	title             string
	description       string
	status            string
	priority          int
	position          int
	parentTaskID      sql.NullInt64
	complexity        string
	recommendedModel  string
	activeSessionID   sql.NullInt64
	metadata          string
	version           int
	createdAt         string
	startedAt         sql.NullString
	completedAt       sql.NullString
}

func (r *taskRow) hydrate() (*domain.Task, int, error) {
	meta, err := decodeMetadata(r.metadata)
	if err != nil {
		return nil, 0, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.createdAt)
	if err != nil {
		createdAt = time.Time{}
	}
	t := &domain.Task{
		ID:               r.id,
		ExternalID:       r.externalID,
		Title:            r.title,
		Description:      r.description,
		Status:           domain.TaskStatus(r.status),
		Priority:         r.priority,
		Position:         r.position,
		ParentTaskID:     scanNullInt64(r.parentTaskID),
		Complexity:       domain.Complexity(r.complexity),
		RecommendedModel: r.recommendedModel,
		ActiveSessionID:  scanNullInt64(r.activeSessionID),
		Metadata:         meta,
		CreatedAt:        createdAt,
		StartedAt:        scanNullTime(r.startedAt),
		CompletedAt:      scanNullTime(r.completedAt),
	}
	return t, r.version, nil
}

const taskColumns = `id, external_id, title, description, status, priority, position,
	parent_task_id, complexity, recommended_model, active_session_id, metadata,
	version, created_at, started_at, completed_at`

func scanTaskRow(scan func(dest ...any) error) (*domain.Task, int, error) {
	var r taskRow
	if err := scan(
		&r.id, &r.externalID, &r.title, &r.description, &r.status, &r.priority, &r.position,
		&r.parentTaskID, &r.complexity, &r.recommendedModel, &r.activeSessionID, &r.metadata,
		&r.version, &r.createdAt, &r.startedAt, &r.completedAt,
	); err != nil {
		return nil, 0, err
	}
	return r.hydrate()
}
