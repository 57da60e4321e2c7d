package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/store"
)

func newEventsCmd() *cobra.Command {
	var afterID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List continuity-log events after a given id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				events, err := store.ListEventsSince(db, afterID, limit)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(events)
			})
		},
	}
	cmd.Flags().Int64Var(&afterID, "after-id", 0, "only return events with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events to return")
	return cmd
}
