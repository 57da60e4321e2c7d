package httpapi

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentqueue/agentqueue/internal/agentrunner"
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

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	bus := eventbus.New(dbPersister{db: db})
	sched := scheduler.New(db, bus, nil, vcs.New(t.TempDir()), agentrunner.New(nil), t.TempDir())
	return NewFacade(db, sched, bus)
}

func TestFacadeSubmitAndGetTaskRoundTrips(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	created, err := f.SubmitTask(ctx, &domain.Task{Title: "Fix bug"})
	require.NoError(t, err)

	fetched, err := f.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", fetched.Title)

	all, err := f.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFacadePatchTaskMetadataMerges(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	created, err := f.SubmitTask(ctx, &domain.Task{Title: "Task", Metadata: domain.Metadata{"active": true}})
	require.NoError(t, err)

	merged, err := f.PatchTaskMetadata(ctx, created.ID, []byte(`{"retry_count": 2}`))
	require.NoError(t, err)
	assert.True(t, merged.Active())
	assert.Equal(t, 2, merged.RetryCount())
}

func TestFacadeCancelTaskDelegatesToScheduler(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	created, err := f.SubmitTask(ctx, &domain.Task{Title: "Task"})
	require.NoError(t, err)

	require.NoError(t, f.CancelTask(ctx, created.ID))

	fetched, err := f.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, fetched.Status)
}

func TestFacadeStatusSummarizesTaskCounts(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.SubmitTask(ctx, &domain.Task{Title: "One"})
	require.NoError(t, err)
	_, err = f.SubmitTask(ctx, &domain.Task{Title: "Two"})
	require.NoError(t, err)

	status, err := f.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalTasks)
	assert.Equal(t, 2, status.TaskCounts[domain.TaskStatusPending])
	assert.Equal(t, "unknown", status.RateLimit.Tier)
}

func TestFacadeSubscribeReturnsLiveSubscription(t *testing.T) {
	f := newTestFacade(t)

	sub := f.Subscribe()
	defer sub.Unsubscribe()
	assert.Equal(t, 1, f.SubscriberCount())

	_, err := f.bus.Publish(domain.Event{Kind: domain.EventTaskCreated, EntityType: domain.EntityTask, EntityID: "1"})
	require.NoError(t, err)

	select {
	case evt := <-sub.C:
		assert.Equal(t, domain.EntityTask, evt.EntityType)
	default:
		t.Fatal("expected an event on the subscription channel")
	}
}

func TestFacadeListSessionsForTaskEmptyByDefault(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	created, err := f.SubmitTask(ctx, &domain.Task{Title: "Task"})
	require.NoError(t, err)

	sessions, err := f.ListSessionsForTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
