package commands

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/store"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect agent sessions",
	}
	cmd.AddCommand(newSessionGetCmd(), newSessionListCmd(), newSessionOutputCmd())
	return cmd
}

func newSessionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one session by internal id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid session id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				s, err := store.GetSession(db, id)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(s)
			})
		},
	}
}

func newSessionListCmd() *cobra.Command {
	var taskID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				sessions, err := store.ListSessionsForTask(db, taskID)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(sessions)
			})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task-id", 0, "internal id of the owning task")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

// newSessionOutputCmd streams a session's captured stdout or stderr, read
// directly from the log file the agent runner wrote to on disk. The store
// only tracks the path, never the bytes.
func newSessionOutputCmd() *cobra.Command {
	var stream string

	cmd := &cobra.Command{
		Use:   "output <id>",
		Short: "Print a session's captured stdout or stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid session id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				s, err := store.GetSession(db, id)
				if err != nil {
					return cliutil.PrintError(err)
				}
				path := s.StdoutPath
				if stream == "stderr" {
					path = s.StderrPath
				}
				if path == "" {
					return cliutil.PrintError(fmt.Errorf("session %d has no %s path recorded", id, stream))
				}
				b, err := os.ReadFile(path)
				if err != nil {
					return cliutil.PrintError(fmt.Errorf("read %s: %w", path, err))
				}
				return cliutil.PrintSuccess(map[string]any{"session_id": id, "stream": stream, "content": string(b)})
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "stdout", `which stream to read: "stdout" or "stderr"`)
	return cmd
}
