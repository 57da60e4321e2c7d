package commands

import (
	"database/sql"
	"fmt"

	"github.com/agentqueue/agentqueue/internal/config"
	"github.com/agentqueue/agentqueue/internal/store"
)

// withDB opens the resolved database (running migrations if this is the
// first connection to it), runs fn, and closes it afterwards — the
// per-command connection-handle style the teacher's commands package uses
// for every CLI invocation, generalized to this repo's domain.
func withDB(fn func(db *sql.DB) error) error {
	dbPath, err := config.GetDBPath()
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}
	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.CloseDB(db) }()

	return fn(db)
}
