// Package commands implements the agentqueue CLI: operator actions (submit,
// list, cancel, reorder tasks; inspect sessions; trigger a manual heartbeat
// beat; check system status) that talk to the same SQLite file the daemon
// owns. Structured exactly like the teacher's cobra root command: persistent
// flags, subcommands registered via root.AddCommand, JSON responses through
// internal/cliutil.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/config"
)

var dbPathFlag string

// Execute builds and runs the root command, returning its error (if any).
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "agentqueue",
		Short:         "Operate the agentqueue autonomous execution harness",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if dbPathFlag != "" {
				config.SetDBPathOverride(dbPathFlag)
			}
		},
	}
	root.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "override the SQLite database path")
	root.PersistentFlags().StringVar(&requestIDFlag, "request-id", "", "idempotency key for mutating commands (default: a fresh uuid)")

	root.AddCommand(
		newTaskCmd(),
		newSessionCmd(),
		newProjectCmd(),
		newHeartbeatCmd(),
		newStatusCmd(),
		newEventsCmd(),
		newMigrateCmd(),
	)

	return root.Execute()
}
