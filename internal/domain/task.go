// Package domain holds the shared entity types for the orchestration core:
// tasks, sessions, comments, events, rate-limit snapshots, and projects.
package domain

import "time"

// TaskStatus represents the current state of a task in the scheduler's
// state machine (the transitions are made by internal/scheduler).
type TaskStatus string

// Task status constants.
const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusAssessing       TaskStatus = "assessing"
	TaskStatusDecomposed      TaskStatus = "decomposed"
	TaskStatusExecuting       TaskStatus = "executing"
	TaskStatusReadyForReview  TaskStatus = "ready_for_review"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusCancelled       TaskStatus = "cancelled"
)

// IsTerminal returns true for states that never transition again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDecomposed, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Complexity is the free-string classification an AssessmentEngine assigns.
type Complexity string

// Task represents a unit of work in the queue.
type Task struct {
	ID                 int64      `json:"id"`
	ExternalID          string     `json:"external_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Status              TaskStatus `json:"status"`
	Priority            int        `json:"priority"`
	Position            int        `json:"position"`
	ParentTaskID        *int64     `json:"parent_task_id,omitempty"`
	Complexity          Complexity `json:"complexity,omitempty"`
	RecommendedModel    string     `json:"recommended_model,omitempty"`
	ActiveSessionID     *int64     `json:"active_session_id,omitempty"`
	Metadata            Metadata   `json:"metadata"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// IsAssessed reports whether the task has been classified.
func (t *Task) IsAssessed() bool {
	return t.Complexity != ""
}

// IsActive reports whether the task's metadata flag gates it for execution.
func (t *Task) IsActive() bool {
	return t.Metadata.Active()
}

// HasParent reports whether this task is a child of another task.
func (t *Task) HasParent() bool {
	return t.ParentTaskID != nil
}
