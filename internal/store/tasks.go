package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// GenerateTaskID returns a globally unique external task identifier.
func GenerateTaskID() string { return generatePrefixedID("task") }

// CreateTask inserts a new task in its own transaction. If task.ExternalID is
// empty, one is generated. Enforces invariant (i): a non-nil parent must
// reference an existing task (rejected, not silently nulled).
func CreateTask(db *sql.DB, t *domain.Task) (*domain.Task, error) {
	var created *domain.Task
	err := Transact(db, func(tx *sql.Tx) error {
		var err error
		created, err = CreateTaskTx(tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTaskTx inserts a new task within a transaction the caller already
// holds — used by command code that must create a task and append an event
// atomically without nesting a second Transact call on the same connection.
func CreateTaskTx(tx *sql.Tx, t *domain.Task) (*domain.Task, error) {
	if t.ExternalID == "" {
		t.ExternalID = GenerateTaskID()
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}
	if t.Metadata == nil {
		t.Metadata = domain.Metadata{}
	}

	metaJSON, err := encodeMetadata(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	if t.ParentTaskID != nil {
		var exists int
		if err := tx.QueryRowContext(context.Background(),
			`SELECT 1 FROM tasks WHERE id = ?`, *t.ParentTaskID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("parent task %d does not exist", *t.ParentTaskID)
			}
			return nil, err
		}
	}

	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO tasks (external_id, title, description, status, priority, position,
			parent_task_id, complexity, recommended_model, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ExternalID, t.Title, t.Description, string(t.Status), t.Priority, t.Position,
		t.ParentTaskID, string(t.Complexity), t.RecommendedModel, metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return getTaskTx(tx, id)
}

// GetTask fetches a task by internal id.
func GetTask(db *sql.DB, id int64) (*domain.Task, error) {
	row := db.QueryRowContext(context.Background(),
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, _, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTaskByExternalID fetches a task by its external id.
func GetTaskByExternalID(db *sql.DB, externalID string) (*domain.Task, error) {
	row := db.QueryRowContext(context.Background(),
		`SELECT `+taskColumns+` FROM tasks WHERE external_id = ?`, externalID)
	t, _, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func getTaskTx(tx *sql.Tx, id int64) (*domain.Task, error) {
	row := tx.QueryRowContext(context.Background(),
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, _, err := scanTaskRow(row.Scan)
	return t, err
}

// GetTaskByExternalIDTx is GetTaskByExternalID against a transaction the
// caller already holds, avoiding a second connection checkout on a
// single-connection pool.
func GetTaskByExternalIDTx(tx *sql.Tx, externalID string) (*domain.Task, error) {
	row := tx.QueryRowContext(context.Background(),
		`SELECT `+taskColumns+` FROM tasks WHERE external_id = ?`, externalID)
	t, _, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTasks returns all tasks ordered by (position, priority desc, id).
func ListTasks(db *sql.DB) ([]*domain.Task, error) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT `+taskColumns+` FROM tasks ORDER BY position ASC, priority DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		t, _, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NextPendingUnassessed returns up to limit tasks with status=pending and no
// complexity set, ordered by (position asc, priority desc, id asc).
func NextPendingUnassessed(db *sql.DB, limit int) ([]*domain.Task, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND complexity = ''
		ORDER BY position ASC, priority DESC, id ASC
		LIMIT ?`, string(domain.TaskStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		t, _, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NextExecutable returns up to limit tasks with status=pending, complexity
// set, metadata.active=true, ordered by (position asc, priority desc, id
// asc). Decomposed parents never appear here since their status changed.
func NextExecutable(db *sql.DB, limit int) ([]*domain.Task, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND complexity != ''
		  AND json_extract(metadata, '$.active') = 1
		ORDER BY position ASC, priority DESC, id ASC
		LIMIT ?`, string(domain.TaskStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		t, _, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountRunningSessions returns the number of sessions currently in
// {created, running} status — the value subtracted from MAX_CONCURRENT_TASKS
// to compute execute-phase slots.
func CountRunningSessions(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sessions WHERE status IN ('created', 'running')`).Scan(&n)
	return n, err
}

// UpdateTaskStatusCAS transitions a task's status using an optimistic
// concurrency check on the version column. fromVersion must match the
// caller's last-read version or a *VersionConflictError is returned.
func UpdateTaskStatusCAS(tx *sql.Tx, id int64, newStatus domain.TaskStatus, fromVersion int) error {
	res, err := tx.ExecContext(context.Background(), `
		UPDATE tasks SET status = ?, version = version + 1 WHERE id = ? AND version = ?`,
		string(newStatus), id, fromVersion)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &VersionConflictError{Entity: "task", ID: fmt.Sprintf("%d", id), Version: fromVersion}
	}
	return nil
}

// SetTaskStatus unconditionally sets a task's status (no version check). Used
// by the scheduler's transitions after its own selection query and by the
// CLI's set-status command.
func SetTaskStatus(tx *sql.Tx, id int64, status domain.TaskStatus) error {
	_, err := tx.ExecContext(context.Background(),
		`UPDATE tasks SET status = ?, version = version + 1 WHERE id = ?`, string(status), id)
	return err
}

// SetTaskAssessment records the outcome of a successful assessment.
func SetTaskAssessment(tx *sql.Tx, id int64, complexity domain.Complexity, recommendedModel string, mergedMetadata domain.Metadata) error {
	metaJSON, err := encodeMetadata(mergedMetadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE tasks SET complexity = ?, recommended_model = ?, metadata = ?, version = version + 1
		WHERE id = ?`, string(complexity), recommendedModel, metaJSON, id)
	return err
}

// SetTaskActiveSession sets or clears (nil) active_session_id and, when
// non-nil, sets started_at if it is not already set.
func SetTaskActiveSession(tx *sql.Tx, id int64, sessionID *int64) error {
	if sessionID != nil {
		_, err := tx.ExecContext(context.Background(), `
			UPDATE tasks SET active_session_id = ?, started_at = COALESCE(started_at, ?), version = version + 1
			WHERE id = ?`, *sessionID, time.Now().UTC().Format(time.RFC3339Nano), id)
		return err
	}
	_, err := tx.ExecContext(context.Background(),
		`UPDATE tasks SET active_session_id = NULL, version = version + 1 WHERE id = ?`, id)
	return err
}

// MarkTaskCompleted sets completed_at on terminal success.
func MarkTaskCompleted(tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(context.Background(),
		`UPDATE tasks SET completed_at = ?, version = version + 1 WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// MergeMetadata is the named merge_metadata(task_id, patch) store operation
// from spec.md §4.1: a shallow merge of patchJSON into the task's metadata,
// where a literal JSON null for a key deletes it. Returns the merged
// metadata.
func MergeMetadata(db *sql.DB, taskID int64, patchJSON []byte) (domain.Metadata, error) {
	var merged domain.Metadata
	err := Transact(db, func(tx *sql.Tx) error {
		var err error
		merged, err = MergeMetadataTx(tx, taskID, patchJSON)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// MergeMetadataTx is the transaction-scoped variant of MergeMetadata, for
// callers (such as RunIdempotent's operation closures, or the scheduler's
// own multi-step transactions) that already hold an open transaction on the
// single-connection store. The merge itself runs in SQL via SQLite's
// json_patch, which implements RFC 7396 merge-patch semantics (a JSON null
// value removes the key) — pushing the structured-data manipulation into
// SQL rather than round-tripping through a Go-side read-merge-write. Keys
// whose patch value is an object are first removed with json_remove, so the
// new object replaces the stored one instead of being merged into it
// recursively; the merge stays shallow.
func MergeMetadataTx(tx *sql.Tx, taskID int64, patchJSON []byte) (domain.Metadata, error) {
	if len(patchJSON) == 0 {
		patchJSON = []byte("{}")
	}
	var patchKeys map[string]json.RawMessage
	if err := json.Unmarshal(patchJSON, &patchKeys); err != nil {
		return nil, fmt.Errorf("merge metadata: %w", err)
	}
	for key, value := range patchKeys {
		if v := bytes.TrimSpace(value); len(v) > 0 && v[0] == '{' {
			if _, err := tx.ExecContext(context.Background(),
				`UPDATE tasks SET metadata = json_remove(metadata, ?) WHERE id = ?`, `$."`+key+`"`, taskID); err != nil {
				return nil, fmt.Errorf("merge metadata: %w", err)
			}
		}
	}
	res, err := tx.ExecContext(context.Background(), `
		UPDATE tasks SET metadata = json_patch(metadata, ?), version = version + 1
		WHERE id = ?`, string(patchJSON), taskID)
	if err != nil {
		return nil, fmt.Errorf("merge metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	var mergedJSON string
	if err := tx.QueryRowContext(context.Background(),
		`SELECT metadata FROM tasks WHERE id = ?`, taskID).Scan(&mergedJSON); err != nil {
		return nil, err
	}
	return decodeMetadata(mergedJSON)
}

// SetTaskPositionTx updates a task's ordering position within an existing
// transaction, bumping version like every other mutating task write.
func SetTaskPositionTx(tx *sql.Tx, id int64, position int) error {
	res, err := tx.ExecContext(context.Background(),
		`UPDATE tasks SET position = ?, version = version + 1 WHERE id = ?`, position, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChildTask inserts a decomposed child task row within an existing
// transaction. Only the parent link is taken from the parent: priority is 0
// and metadata is empty.
func InsertChildTask(tx *sql.Tx, parentID int64, externalID, title, description string, position int) (int64, error) {
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO tasks (external_id, title, description, status, priority, position, parent_task_id, metadata)
		VALUES (?, ?, ?, ?, 0, ?, ?, '{}')`,
		externalID, title, description, string(domain.TaskStatusPending), position, parentID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DedupePending collapses exact (title, description, parent_task_id) triples
// among pending tasks, keeping the lowest id. Returns the ids removed.
func DedupePending(db *sql.DB) ([]int64, error) {
	var removed []int64
	err := Transact(db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(context.Background(), `
			SELECT title, description, parent_task_id
			FROM tasks
			WHERE status = ?
			GROUP BY title, description, parent_task_id
			HAVING COUNT(*) > 1`, string(domain.TaskStatusPending))
		if err != nil {
			return err
		}

		type group struct {
			title, description string
			parentID            sql.NullInt64
		}
		var groups []group
		func() {
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var g group
				if scanErr := rows.Scan(&g.title, &g.description, &g.parentID); scanErr != nil {
					err = scanErr
					return
				}
				groups = append(groups, g)
			}
		}()
		if err != nil {
			return err
		}

		for _, g := range groups {
			var idRows *sql.Rows
			var qerr error
			if g.parentID.Valid {
				idRows, qerr = tx.QueryContext(context.Background(), `
					SELECT id FROM tasks WHERE status = ? AND title = ? AND description = ? AND parent_task_id = ?
					ORDER BY id ASC`, string(domain.TaskStatusPending), g.title, g.description, g.parentID.Int64)
			} else {
				idRows, qerr = tx.QueryContext(context.Background(), `
					SELECT id FROM tasks WHERE status = ? AND title = ? AND description = ? AND parent_task_id IS NULL
					ORDER BY id ASC`, string(domain.TaskStatusPending), g.title, g.description)
			}
			if qerr != nil {
				return qerr
			}
			var ids []int64
			for idRows.Next() {
				var id int64
				if scanErr := idRows.Scan(&id); scanErr != nil {
					_ = idRows.Close()
					return scanErr
				}
				ids = append(ids, id)
			}
			_ = idRows.Close()

			for _, id := range ids[1:] {
				if _, err := tx.ExecContext(context.Background(), `DELETE FROM tasks WHERE id = ?`, id); err != nil {
					return err
				}
				removed = append(removed, id)
			}
		}
		return nil
	})
	return removed, err
}
