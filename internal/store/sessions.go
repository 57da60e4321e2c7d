package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// GenerateSessionID returns a globally unique external session identifier.
func GenerateSessionID() string { return generatePrefixedID("session") }

const sessionColumns = `id, external_id, task_id, working_dir, model, status, turn_count,
	stdout_path, stderr_path, pid, exit_code, claude_session_id, artifacts, version,
	created_at, started_at, completed_at, last_heartbeat_at`

func scanSessionRow(scan func(dest ...any) error) (*domain.Session, int, error) {
	var (
		id, taskID                              int64
		externalID, workingDir, model, status    string
		turnCount, pid                           int
		stdoutPath, stderrPath, claudeSessionID  string
		exitCode                                 sql.NullInt64
		artifactsJSON                            string
		version                                  int
		createdAt                                string
		startedAt, completedAt, lastHeartbeatAt  sql.NullString
	)
	if err := scan(&id, &externalID, &taskID, &workingDir, &model, &status, &turnCount,
		&stdoutPath, &stderrPath, &pid, &exitCode, &claudeSessionID, &artifactsJSON, &version,
		&createdAt, &startedAt, &completedAt, &lastHeartbeatAt); err != nil {
		return nil, 0, err
	}

	artifacts, err := decodeMetadata(artifactsJSON)
	if err != nil {
		return nil, 0, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		created = time.Time{}
	}

	s := &domain.Session{
		ID:              id,
		ExternalID:      externalID,
		TaskID:          taskID,
		WorkingDir:      workingDir,
		Model:           model,
		Status:          domain.SessionStatus(status),
		TurnCount:       turnCount,
		StdoutPath:      stdoutPath,
		StderrPath:      stderrPath,
		PID:             pid,
		ExitCode:        scanNullIntPtr(exitCode),
		ClaudeSessionID: claudeSessionID,
		Artifacts:       artifacts,
		CreatedAt:       created,
		StartedAt:       scanNullTime(startedAt),
		CompletedAt:     scanNullTime(completedAt),
		LastHeartbeatAt: scanNullTime(lastHeartbeatAt),
	}
	return s, version, nil
}

// CreateSession inserts a new session row within an existing transaction.
func CreateSession(tx *sql.Tx, s *domain.Session) (int64, error) {
	if s.ExternalID == "" {
		s.ExternalID = GenerateSessionID()
	}
	if s.Status == "" {
		s.Status = domain.SessionStatusCreated
	}
	artifactsJSON, err := encodeMetadata(s.Artifacts)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO sessions (external_id, task_id, working_dir, model, status,
			stdout_path, stderr_path, artifacts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ExternalID, s.TaskID, s.WorkingDir, s.Model, string(s.Status),
		s.StdoutPath, s.StderrPath, artifactsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// GetSession fetches a session by internal id.
func GetSession(db *sql.DB, id int64) (*domain.Session, error) {
	row := db.QueryRowContext(context.Background(),
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, _, err := scanSessionRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSessionsForTask returns all sessions for a task, most recent first.
func ListSessionsForTask(db *sql.DB, taskID int64) ([]*domain.Session, error) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT `+sessionColumns+` FROM sessions WHERE task_id = ? ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Session
	for rows.Next() {
		s, _, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSessionRunning transitions a session to running and records the PID,
// called once the agent-CLI child process has actually been spawned.
func SetSessionRunning(tx *sql.Tx, id int64, pid int) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE sessions SET status = ?, pid = ?, started_at = ?, version = version + 1
		WHERE id = ?`, string(domain.SessionStatusRunning), pid, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// CompleteSession transitions a session to a terminal status and records the
// exit code. status must be completed, failed, or cancelled.
func CompleteSession(tx *sql.Tx, id int64, status domain.SessionStatus, exitCode int) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE sessions SET status = ?, exit_code = ?, completed_at = ?, version = version + 1
		WHERE id = ?`, string(status), exitCode, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// TouchSessionHeartbeat records that a session is still alive as of now.
func TouchSessionHeartbeat(db *sql.DB, id int64) error {
	_, err := db.ExecContext(context.Background(),
		`UPDATE sessions SET last_heartbeat_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}
