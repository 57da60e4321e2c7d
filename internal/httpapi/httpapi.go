// Package httpapi defines the service contracts a future HTTP façade would
// be driven through, plus Facade, one concrete implementation of them over
// internal/store and internal/scheduler. There are no handlers and no
// router here. Wiring a web framework in ahead of
// any handler would be dead weight; this package exists so that whoever
// builds the façade later has a stable, already-exercised contract to code
// against instead of reaching straight into internal/store and
// internal/scheduler.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/scheduler"
	"github.com/agentqueue/agentqueue/internal/store"
)

// TaskService is the contract a façade would drive task CRUD and lifecycle
// operations through. It mirrors internal/commands/task.go's command set,
// generalized from cobra RunE closures to context-carrying methods.
type TaskService interface {
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	SubmitTask(ctx context.Context, t *domain.Task) (*domain.Task, error)
	PatchTaskMetadata(ctx context.Context, id int64, patch json.RawMessage) (domain.Metadata, error)
	CancelTask(ctx context.Context, id int64) error
}

// SessionService is the contract for inspecting agent sessions spawned for
// a task.
type SessionService interface {
	ListSessionsForTask(ctx context.Context, taskID int64) ([]*domain.Session, error)
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
}

// SystemStatus summarizes queue-wide health, mirroring the `agentqueue
// status` CLI command's payload.
type SystemStatus struct {
	TaskCounts      map[domain.TaskStatus]int `json:"task_counts"`
	TotalTasks      int                       `json:"total_tasks"`
	RunningSessions int                       `json:"running_sessions"`
	RateLimit       domain.RateLimitSnapshot  `json:"rate_limit"`
}

// SystemStatusService is the contract for the queue-wide health summary.
type SystemStatusService interface {
	Status(ctx context.Context) (SystemStatus, error)
}

// EventStream is the contract for live-tailing the continuity log. It is
// backed directly by eventbus.Bus.Subscribe, whose *eventbus.Subscription
// return value (bounded channel plus resync flag and unsubscribe func) is
// the real shape a streaming handler (SSE, websocket) would consume —
// there is no bare channel-and-closer pair to simplify it to.
type EventStream interface {
	Subscribe() *eventbus.Subscription
	SubscriberCount() int
}

// Facade is the concrete, store-and-scheduler-backed implementation of all
// four service contracts above. It holds no HTTP concerns of its own; it
// exists so the contracts are exercised by real code (and tests) rather
// than standing as aspirational signatures nothing implements.
type Facade struct {
	db    *sql.DB
	sched *scheduler.Scheduler
	bus   *eventbus.Bus
}

// NewFacade builds a Facade over an already-open store connection and the
// Scheduler and EventBus an Orchestrator wires together.
func NewFacade(db *sql.DB, sched *scheduler.Scheduler, bus *eventbus.Bus) *Facade {
	return &Facade{db: db, sched: sched, bus: bus}
}

var (
	_ TaskService         = (*Facade)(nil)
	_ SessionService      = (*Facade)(nil)
	_ SystemStatusService = (*Facade)(nil)
	_ EventStream         = (*Facade)(nil)
)

func (f *Facade) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return store.ListTasks(f.db)
}

func (f *Facade) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return store.GetTask(f.db, id)
}

func (f *Facade) SubmitTask(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	return store.CreateTask(f.db, t)
}

func (f *Facade) PatchTaskMetadata(ctx context.Context, id int64, patch json.RawMessage) (domain.Metadata, error) {
	return store.MergeMetadata(f.db, id, patch)
}

func (f *Facade) CancelTask(ctx context.Context, id int64) error {
	return f.sched.CancelTask(ctx, id)
}

func (f *Facade) ListSessionsForTask(ctx context.Context, taskID int64) ([]*domain.Session, error) {
	return store.ListSessionsForTask(f.db, taskID)
}

func (f *Facade) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	return store.GetSession(f.db, id)
}

func (f *Facade) Status(ctx context.Context) (SystemStatus, error) {
	tasks, err := store.ListTasks(f.db)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("list tasks: %w", err)
	}
	counts := map[domain.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	running, err := store.CountRunningSessions(f.db)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("count running sessions: %w", err)
	}
	snap, err := store.GetRateLimitSnapshot(f.db)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("get rate limit snapshot: %w", err)
	}
	return SystemStatus{
		TaskCounts:      counts,
		TotalTasks:      len(tasks),
		RunningSessions: running,
		RateLimit:       snap,
	}, nil
}

func (f *Facade) Subscribe() *eventbus.Subscription {
	return f.bus.Subscribe()
}

func (f *Facade) SubscriberCount() int {
	return f.bus.SubscriberCount()
}
