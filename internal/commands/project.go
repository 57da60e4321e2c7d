package commands

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentqueue/agentqueue/internal/cliutil"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/store"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Register and inspect projects (working directories tasks execute against)",
	}
	cmd.AddCommand(newProjectRegisterCmd(), newProjectListCmd(), newProjectGetCmd())
	return cmd
}

func newProjectRegisterCmd() *cobra.Command {
	var name, repoDir, vcsOrigin, defaultRef string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				p := &domain.Project{Name: name, RepoDir: repoDir, VcsOrigin: vcsOrigin, DefaultRef: defaultRef}
				created, err := store.CreateProject(db, p)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "unique project name")
	cmd.Flags().StringVar(&repoDir, "repo-dir", "", "absolute path to the working repository")
	cmd.Flags().StringVar(&vcsOrigin, "origin", "", "git remote origin, for gh pr create")
	cmd.Flags().StringVar(&defaultRef, "default-ref", "main", "base branch worktrees fork from")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("repo-dir")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				projects, err := store.ListProjects(db)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(projects)
			})
		},
	}
}

func newProjectGetCmd() *cobra.Command {
	var byName string

	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Fetch one project by internal id or --name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sql.DB) error {
				if byName != "" {
					p, err := store.GetProjectByName(db, byName)
					if err != nil {
						return cliutil.PrintError(err)
					}
					return cliutil.PrintSuccess(p)
				}
				if len(args) != 1 {
					return cliutil.PrintError(fmt.Errorf("provide either an id argument or --name"))
				}
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return cliutil.PrintError(fmt.Errorf("invalid project id %q: %w", args[0], err))
				}
				p, err := store.GetProject(db, id)
				if err != nil {
					return cliutil.PrintError(err)
				}
				return cliutil.PrintSuccess(p)
			})
		},
	}
	cmd.Flags().StringVar(&byName, "name", "", "look up by project name instead of internal id")
	return cmd
}
