package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/config"
	"github.com/agentqueue/agentqueue/internal/orchestrator"
)

// newHeartbeatCmd runs exactly one beat synchronously through the same
// wiring the daemon uses, for operators who want to drive the scheduler
// without starting agentqueued.
func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Trigger a single heartbeat beat and print its diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := orchestrator.New(config.Effective())
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("wire orchestrator: %w", err))
			}
			defer func() { _ = o.Close() }()

			diag := o.Heartbeat.Trigger(cmd.Context())
			return cliutil.PrintSuccess(diag)
		},
	}
}
