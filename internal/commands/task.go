package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/store"
)

const idempotencyAgent = "agentqueue-cli"

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, list, and mutate tasks",
	}
	cmd.AddCommand(
		newTaskSubmitCmd(),
		newTaskListCmd(),
		newTaskGetCmd(),
		newTaskPatchCmd(),
		newTaskCancelCmd(),
		newTaskReorderCmd(),
		newTaskSetStatusCmd(),
	)
	return cmd
}

func newTaskSubmitCmd() *cobra.Command {
	var title, description string
	var priority int
	var active bool
	var parentID int64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				resultJSON, _, err := store.RunIdempotent(db, idempotencyAgent, resolveRequestID(), "task.submit",
					func(tx *sql.Tx) (string, error) {
						t := &domain.Task{Title: title, Description: description, Priority: priority, Metadata: domain.Metadata{"active": active}}
						if parentID > 0 {
							t.ParentTaskID = &parentID
						}
						created, err := store.CreateTaskTx(tx, t)
						if err != nil {
							return "", err
						}
						if _, err := store.AppendEvent(tx, &domain.Event{
							Kind: domain.EventTaskCreated, EntityType: domain.EntityTask,
							EntityID: fmt.Sprintf("%d", created.ID),
						}); err != nil {
							return "", err
						}
						b, err := json.Marshal(created)
						return string(b), err
					})
				if err != nil {
					return cliutil.PrintError(err)
				}
				var created domain.Task
				_ = json.Unmarshal([]byte(resultJSON), &created)
				return cliutil.PrintSuccess(created)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().IntVar(&priority, "priority", 0, "task priority (higher = earlier)")
	cmd.Flags().BoolVar(&active, "active", true, "whether the task is eligible for execution once assessed")
	cmd.Flags().Int64Var(&parentID, "parent-id", 0, "internal id of the parent task, if any")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				tasks, err := store.ListTasks(db)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(tasks)
			})
		},
	}
}

func newTaskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one task by internal id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid task id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				t, err := store.GetTask(db, id)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(t)
			})
		},
	}
}

func newTaskPatchCmd() *cobra.Command {
	var metadataJSON string

	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Shallow-merge a metadata patch into a task (null deletes a key)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid task id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				resultJSON, _, err := store.RunIdempotent(db, idempotencyAgent, resolveRequestID(), "task.patch",
					func(tx *sql.Tx) (string, error) {
						merged, err := store.MergeMetadataTx(tx, id, []byte(metadataJSON))
						if err != nil {
							return "", err
						}
						b, err := json.Marshal(merged)
						return string(b), err
					})
				if err != nil {
					return cliutil.PrintError(err)
				}
				var merged domain.Metadata
				_ = json.Unmarshal([]byte(resultJSON), &merged)
				return cliutil.PrintSuccess(merged)
			})
		},
	}
	cmd.Flags().StringVar(&metadataJSON, "metadata", "{}", "JSON object patch to merge into task metadata")
	return cmd
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task, terminating any active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid task id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				sched := schedulerForCommands(db)
				if _, _, idemErr := store.RunIdempotent(db, idempotencyAgent, resolveRequestID(), "task.cancel",
					func(tx *sql.Tx) (string, error) {
						return "{}", nil
					}); idemErr != nil {
					return cliutil.PrintError(idemErr)
				}
				if err := sched.CancelTask(cmd.Context(), id); err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(map[string]any{"id": id, "status": domain.TaskStatusCancelled})
			})
		},
	}
}

func newTaskReorderCmd() *cobra.Command {
	var pairsJSON string

	cmd := &cobra.Command{
		Use:   "reorder",
		Short: `Reorder tasks from a JSON vector: [{"id":1,"position":0},...]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pairs []struct {
				ID       int64 `json:"id"`
				Position int   `json:"position"`
			}
			if err := json.Unmarshal([]byte(pairsJSON), &pairs); err != nil {
				return cliutil.PrintError(fmt.Errorf("parse --pairs: %w", err))
			}
			return withDB(func(db *sql.DB) error {
				_, _, err := store.RunIdempotent(db, idempotencyAgent, resolveRequestID(), "task.reorder",
					func(tx *sql.Tx) (string, error) {
						for _, p := range pairs {
							if err := store.SetTaskPositionTx(tx, p.ID, p.Position); err != nil {
								return "", err
							}
						}
						return "{}", nil
					})
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(map[string]any{"reordered": len(pairs)})
			})
		},
	}
	cmd.Flags().StringVar(&pairsJSON, "pairs", "[]", `JSON array of {"id":<int>,"position":<int>}`)
	_ = cmd.MarkFlagRequired("pairs")
	return cmd
}

func newTaskSetStatusCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Explicitly set a task's status (operator override; bypasses the scheduler's transition rules)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cliutil.PrintError(fmt.Errorf("invalid task id %q: %w", args[0], err))
			}
			return withDB(func(db *sql.DB) error {
				err := store.Transact(db, func(tx *sql.Tx) error {
					if err := store.SetTaskStatus(tx, id, domain.TaskStatus(status)); err != nil {
						return err
					}
					_, err := store.AppendEvent(tx, &domain.Event{
						Kind: fmt.Sprintf("task.%s", status), EntityType: domain.EntityTask,
						EntityID: fmt.Sprintf("%d", id),
					})
					return err
				})
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(map[string]any{"id": id, "status": status})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status value")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}
