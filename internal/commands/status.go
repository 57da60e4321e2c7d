package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize task counts by status and the last known rate-limit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				tasks, err := store.ListTasks(db)
				if err != nil {
					return cliutil.PrintError(err)
				}
				counts := map[domain.TaskStatus]int{}
				for _, t := range tasks {
					counts[t.Status]++
				}

				running, err := store.CountRunningSessions(db)
				if err != nil {
					return cliutil.PrintError(err)
				}

				snap, err := store.GetRateLimitSnapshot(db)
				if err != nil {
					return cliutil.PrintError(err)
				}

				current, latest, err := store.SchemaVersion(db)
				if err != nil {
					return cliutil.PrintError(err)
				}

				return cliutil.PrintSuccess(map[string]any{
					"task_counts":      counts,
					"total_tasks":      len(tasks),
					"running_sessions": running,
					"rate_limit":       snap,
					"schema_version":   current,
					"latest_migration": latest,
				})
			})
		},
	}
}
