package commands

import (
	"database/sql"

	"github.com/agentqueue/agentqueue/internal/agentrunner"
	"github.com/agentqueue/agentqueue/internal/config"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/scheduler"
	"github.com/agentqueue/agentqueue/internal/store"
	"github.com/agentqueue/agentqueue/internal/vcs"
)

type dbPersister struct{ db *sql.DB }

func (p dbPersister) AppendEvent(evt *domain.Event) (int64, error) {
	return store.AppendEvent(p.db, evt)
}

// schedulerForCommands builds a Scheduler bound to an already-open db
// connection, for the CLI command (task cancel) that drives a scheduler
// operation directly rather than through a
// running daemon's heartbeat. It carries no assessment engine — only
// heartbeat-driven assessment uses one — and an AgentAdapter with no
// supervised processes, since process supervision lives in the daemon's
// memory, not the CLI's.
func schedulerForCommands(db *sql.DB) *scheduler.Scheduler {
	settings := config.Effective()
	bus := eventbus.New(dbPersister{db: db})
	vcsAdapter := vcs.New(settings.WorktreesDir)
	runner := agentrunner.New(nil)
	return scheduler.New(db, bus, nil, vcsAdapter, runner, settings.WorktreesDir)
}
