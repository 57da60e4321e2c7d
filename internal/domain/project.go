package domain

import "time"

// Project is a registered working directory the scheduler creates worktrees
// under. Name is unique.
type Project struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	RepoDir    string    `json:"repo_dir"`
	VcsOrigin  string    `json:"vcs_origin,omitempty"`
	DefaultRef string    `json:"default_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
