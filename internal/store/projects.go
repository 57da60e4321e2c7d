package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// GenerateProjectID returns a globally unique external project identifier.
func GenerateProjectID() string { return generatePrefixedID("project") }

// CreateProject inserts a new registered working directory. name must be unique.
func CreateProject(db *sql.DB, p *domain.Project) (*domain.Project, error) {
	if p.ExternalID == "" {
		p.ExternalID = GenerateProjectID()
	}
	if p.DefaultRef == "" {
		p.DefaultRef = "main"
	}
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO projects (external_id, name, repo_dir, vcs_origin, default_ref)
		VALUES (?, ?, ?, ?, ?)`, p.ExternalID, p.Name, p.RepoDir, p.VcsOrigin, p.DefaultRef)
	if err != nil {
		return nil, err
	}
	return GetProjectByName(db, p.Name)
}

func scanProjectRow(scan func(dest ...any) error) (*domain.Project, error) {
	var p domain.Project
	var createdAt string
	if err := scan(&p.ID, &p.ExternalID, &p.Name, &p.RepoDir, &p.VcsOrigin, &p.DefaultRef, &createdAt); err != nil {
		return nil, err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = parsed
	}
	return &p, nil
}

const projectColumns = `id, external_id, name, repo_dir, vcs_origin, default_ref, created_at`

// GetProject fetches a project by internal id.
func GetProject(db *sql.DB, id int64) (*domain.Project, error) {
	row := db.QueryRowContext(context.Background(), `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProjectRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// GetProjectByName fetches a project by its unique name.
func GetProjectByName(db *sql.DB, name string) (*domain.Project, error) {
	row := db.QueryRowContext(context.Background(), `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := scanProjectRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProjects returns all registered projects.
func ListProjects(db *sql.DB) ([]*domain.Project, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+projectColumns+` FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
