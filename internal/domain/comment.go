package domain

import "time"

// Comment is a note attached to a task, e.g. one proposed by the
// AssessmentEngine or left by a human reviewer. Deleted cascade with the task.
type Comment struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	TaskID     int64     `json:"task_id"`
	Content    string    `json:"content"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
