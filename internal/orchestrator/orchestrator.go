// Package orchestrator is the single wiring root: it constructs Store,
// EventBus, the three external adapters, the Scheduler, and the Heartbeat in
// dependency order, and tears them down in reverse. The daemon and the
// manual heartbeat command use it; the CLI's task cancel builds a reduced
// Scheduler of its own (internal/commands/helpers.go).
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/agentqueue/agentqueue/internal/agentrunner"
	"github.com/agentqueue/agentqueue/internal/assess"
	"github.com/agentqueue/agentqueue/internal/config"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/heartbeat"
	"github.com/agentqueue/agentqueue/internal/scheduler"
	"github.com/agentqueue/agentqueue/internal/store"
	"github.com/agentqueue/agentqueue/internal/vcs"
)

// storeEventPersister adapts store.AppendEvent (which takes a Querier, so it
// can run inside a caller's transaction) to eventbus.Persister's narrower,
// db-only signature. The bus always persists directly against *sql.DB — it
// never needs transactional event inserts, only the CLI commands in
// internal/commands do.
type storeEventPersister struct {
	db *sql.DB
}

func (p storeEventPersister) AppendEvent(evt *domain.Event) (int64, error) {
	return store.AppendEvent(p.db, evt)
}

// Orchestrator owns every long-lived component and its teardown order.
type Orchestrator struct {
	DB        *sql.DB
	Bus       *eventbus.Bus
	Runner    *agentrunner.Runner
	VCS       *vcs.Adapter
	Assessor  *assess.Engine
	Scheduler *scheduler.Scheduler
	Heartbeat *heartbeat.Heartbeat

	cancel context.CancelFunc
}

// New wires every component using the resolved Settings. Construction order
// is Store -> EventBus -> adapters -> Scheduler -> Heartbeat; Close tears
// down in the reverse order.
func New(settings config.Settings) (*Orchestrator, error) {
	dbPath := settings.DBPath
	if dbPath == "" {
		resolved, err := config.GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		dbPath = resolved
	}

	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(storeEventPersister{db: db})

	worktreesRoot := settings.WorktreesDir
	if worktreesRoot == "" {
		worktreesRoot = config.DefaultWorktreesDir
	}
	vcsAdapter := vcs.New(worktreesRoot)

	assessTimeout := time.Duration(settings.AssessmentTimeoutSeconds) * time.Second
	if assessTimeout <= 0 {
		assessTimeout = time.Duration(config.DefaultAssessmentTimeoutSeconds) * time.Second
	}
	apiKey := os.Getenv(config.AssessmentAPIKeyEnvVar)
	assessor := assess.New(apiKey, settings.AssessmentModel, assessTimeout)

	o := &Orchestrator{DB: db, Bus: bus, VCS: vcsAdapter, Assessor: assessor}

	o.Runner = agentrunner.New(func(sessionID int64, exitCode int, stdoutPath, stderrPath string) {
		o.Scheduler.OnSessionTerminated(sessionID, exitCode, stdoutPath, stderrPath)
	})

	o.Scheduler = scheduler.New(db, bus, assessor, vcsAdapter, o.Runner, worktreesRoot)

	interval := time.Duration(settings.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(config.DefaultHeartbeatIntervalSeconds) * time.Second
	}
	maxConcurrent := settings.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentTasks
	}
	o.Heartbeat = heartbeat.New(db, o.Scheduler, bus, interval, maxConcurrent)

	return o, nil
}

// StartHeartbeat begins the background tick loop. Close (or Stop) must be
// called to release the goroutine.
func (o *Orchestrator) StartHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.Heartbeat.Start(ctx)
}

// Close tears everything down in reverse construction order: stop the
// heartbeat, then close Store. It does not wait for in-flight agent sessions.
func (o *Orchestrator) Close() error {
	if o.cancel != nil {
		o.cancel()
	}
	o.Heartbeat.Stop()
	return store.CloseDB(o.DB)
}
