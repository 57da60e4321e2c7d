package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// GenerateCommentID returns a globally unique external comment identifier.
func GenerateCommentID() string { return generatePrefixedID("comment") }

// CreateComment inserts a comment within an existing transaction.
func CreateComment(tx *sql.Tx, c *domain.Comment) (int64, error) {
	if c.ExternalID == "" {
		c.ExternalID = GenerateCommentID()
	}
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO comments (external_id, task_id, content, author)
		VALUES (?, ?, ?, ?)`, c.ExternalID, c.TaskID, c.Content, c.Author)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCommentsForTask returns all comments for a task, oldest first.
func ListCommentsForTask(db *sql.DB, taskID int64) ([]*domain.Comment, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, external_id, task_id, content, author, created_at, updated_at
		FROM comments WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Comment
	for rows.Next() {
		var c domain.Comment
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.TaskID, &c.Content, &c.Author, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			c.UpdatedAt = parsed
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
