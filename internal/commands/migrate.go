package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/store"
)

// newMigrateCmd runs pending migrations explicitly and reports the resulting
// schema version. withDB already migrates on every connection, so this
// command mostly exists for operators who want to migrate a fresh database
// without also running a command against it.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending schema migrations and report the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				current, latest, err := store.SchemaVersion(db)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(map[string]any{
					"schema_version":   current,
					"latest_migration": latest,
				})
			})
		},
	}
}
