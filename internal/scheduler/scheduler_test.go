package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentqueue/agentqueue/internal/agentrunner"
	"github.com/agentqueue/agentqueue/internal/assess"
	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/store"
	"github.com/agentqueue/agentqueue/internal/vcs"
)

type dbPersister struct{ db *sql.DB }

func (p dbPersister) AppendEvent(evt *domain.Event) (int64, error) {
	return store.AppendEvent(p.db, evt)
}

func setupScheduler(t *testing.T) (*Scheduler, *sql.DB) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	bus := eventbus.New(dbPersister{db: db})
	vcsAdapter := vcs.New(t.TempDir())
	runner := agentrunner.New(nil)

	return New(db, bus, nil, vcsAdapter, runner, t.TempDir()), db
}

// fakeAssessmentServer stubs the Messages-API-shaped endpoint the Engine
// calls, returning a fixed assessment body regardless of the request.
func fakeAssessmentServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := map[string]any{"content": []map[string]string{{"text": body}}}
		_ = json.NewEncoder(w).Encode(env)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupSchedulerWithAssessor(t *testing.T, assessmentBody string) (*Scheduler, *sql.DB) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	srv := fakeAssessmentServer(t, assessmentBody)
	engine := assess.New("test-key", "claude-test", 5*time.Second)
	engine.SetEndpoint(srv.URL)

	bus := eventbus.New(dbPersister{db: db})
	vcsAdapter := vcs.New(t.TempDir())
	runner := agentrunner.New(nil)

	return New(db, bus, engine, vcsAdapter, runner, t.TempDir()), db
}

func TestCancelTaskOnPendingTaskWithNoSession(t *testing.T) {
	sched, db := setupScheduler(t)

	created, err := store.CreateTask(db, &domain.Task{Title: "Cancel me"})
	require.NoError(t, err)

	err = sched.CancelTask(context.Background(), created.ID)
	require.NoError(t, err)

	fetched, err := store.GetTask(db, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, fetched.Status)
}

func TestCancelTaskIsIdempotentOnTerminalTask(t *testing.T) {
	sched, db := setupScheduler(t)

	created, err := store.CreateTask(db, &domain.Task{Title: "Already done"})
	require.NoError(t, err)

	require.NoError(t, sched.CancelTask(context.Background(), created.ID))
	require.NoError(t, sched.CancelTask(context.Background(), created.ID))

	fetched, err := store.GetTask(db, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, fetched.Status)
}

func TestDedupeTasksRemovesDuplicatesAndEmitsEvents(t *testing.T) {
	sched, db := setupScheduler(t)

	_, err := store.CreateTask(db, &domain.Task{Title: "Dup", Description: "Dup"})
	require.NoError(t, err)
	second, err := store.CreateTask(db, &domain.Task{Title: "Dup", Description: "Dup"})
	require.NoError(t, err)

	require.NoError(t, sched.DedupeTasks())

	_, err = store.GetTask(db, second.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	events, err := store.ListEventsSince(db, 0, 100)
	require.NoError(t, err)
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, domain.EventTaskDeduped)
}

func TestCleanupStaleWorktreesToleratesGitFailures(t *testing.T) {
	sched, _ := setupScheduler(t)

	err := sched.CleanupStaleWorktrees(context.Background())
	assert.NoError(t, err, "git failures must be swallowed as warnings, never surfaced")
}

func TestAssessBatchSimpleTaskIsAssessedAndMarkedPending(t *testing.T) {
	sched, db := setupSchedulerWithAssessor(t, `{"complexity":"simple","recommended_model":"claude-haiku","should_decompose":false,"reasoning":"trivial"}`)

	created, err := store.CreateTask(db, &domain.Task{Title: "Fix typo", Description: "one line"})
	require.NoError(t, err)

	require.NoError(t, sched.AssessBatch(context.Background(), 10))

	fetched, err := store.GetTask(db, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fetched.Status)
	assert.Equal(t, domain.Complexity("simple"), fetched.Complexity)
	assert.Equal(t, "claude-haiku", fetched.RecommendedModel)
	assert.Equal(t, "simple", fetched.Metadata.Assessment()["complexity"])
}

func TestAssessBatchDecomposesIntoChildTasks(t *testing.T) {
	sched, db := setupSchedulerWithAssessor(t, `{"complexity":"complex","recommended_model":"claude-opus","should_decompose":true,
		"subtasks":[{"title":"Part A","description":"first half"},{"title":"Part B","description":"second half"}]}`)

	created, err := store.CreateTask(db, &domain.Task{Title: "Big feature", Description: "needs splitting", Position: 5})
	require.NoError(t, err)

	require.NoError(t, sched.AssessBatch(context.Background(), 10))

	parent, err := store.GetTask(db, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDecomposed, parent.Status)
	assert.True(t, parent.Status.IsTerminal())

	all, err := store.ListTasks(db)
	require.NoError(t, err)
	var children []*domain.Task
	for _, t := range all {
		if t.ParentTaskID != nil && *t.ParentTaskID == created.ID {
			children = append(children, t)
		}
	}
	require.Len(t, children, 2)
	assert.Equal(t, "Part A", children[0].Title)
	assert.Equal(t, "Part B", children[1].Title)
}

func TestAssessBatchSkipsAlreadyAssessedTasks(t *testing.T) {
	sched, db := setupSchedulerWithAssessor(t, `{"complexity":"simple","recommended_model":"claude-haiku","should_decompose":false}`)

	already, err := store.CreateTask(db, &domain.Task{Title: "Done", Complexity: "simple"})
	require.NoError(t, err)

	require.NoError(t, sched.AssessBatch(context.Background(), 10))

	fetched, err := store.GetTask(db, already.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fetched.Status)
	assert.Empty(t, fetched.Metadata.Assessment(), "an already-assessed task must not be reassessed")
}

func TestExecuteNextTasksOrdersByPositionThenPriorityThenID(t *testing.T) {
	sched, db := setupScheduler(t)

	// Same position: higher priority must be picked first.
	low, err := store.CreateTask(db, &domain.Task{Title: "Low priority", Complexity: "simple", Priority: 1, Metadata: domain.Metadata{"active": true}})
	require.NoError(t, err)
	high, err := store.CreateTask(db, &domain.Task{Title: "High priority", Complexity: "simple", Priority: 9, Metadata: domain.Metadata{"active": true}})
	require.NoError(t, err)
	// Lower position always wins regardless of priority.
	earliest, err := store.CreateTask(db, &domain.Task{Title: "Earliest position", Complexity: "simple", Priority: 0, Metadata: domain.Metadata{"active": true}})
	require.NoError(t, err)
	require.NoError(t, store.Transact(db, func(tx *sql.Tx) error {
		return store.SetTaskPositionTx(tx, earliest.ID, -1)
	}))

	require.NoError(t, sched.ExecuteNextTasks(context.Background(), 1))

	// executeOne fails at worktree creation in this sandbox (no real git repo
	// at "."), which bumps retry_count on whichever task was actually
	// selected — the property under test is which one, not the outcome.
	picked, err := store.GetTask(db, earliest.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, picked.Metadata.RetryCount(), "lowest position must be selected first")

	untouchedHigh, err := store.GetTask(db, high.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, untouchedHigh.Metadata.RetryCount())
	untouchedLow, err := store.GetTask(db, low.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, untouchedLow.Metadata.RetryCount())
}

func TestExecuteNextTasksFillsOnlyAvailableSlots(t *testing.T) {
	sched, db := setupScheduler(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		created, err := store.CreateTask(db, &domain.Task{
			Title: "Task", Complexity: "simple", Metadata: domain.Metadata{"active": true},
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	require.NoError(t, sched.ExecuteNextTasks(context.Background(), 2))

	touched := 0
	for _, id := range ids {
		fetched, err := store.GetTask(db, id)
		require.NoError(t, err)
		if fetched.Metadata.RetryCount() > 0 {
			touched++
		}
	}
	assert.Equal(t, 2, touched, "only maxConcurrent tasks should be dispatched this beat")
}

func TestOnSessionTerminatedSuccessEmitsSessionCompleted(t *testing.T) {
	sched, db := setupScheduler(t)

	task, err := store.CreateTask(db, &domain.Task{Title: "Task", Complexity: "simple"})
	require.NoError(t, err)

	var sessionID int64
	require.NoError(t, store.Transact(db, func(tx *sql.Tx) error {
		id, err := store.CreateSession(tx, &domain.Session{TaskID: task.ID, WorkingDir: t.TempDir()})
		sessionID = id
		return err
	}))

	sched.OnSessionTerminated(sessionID, 0, "stdout.log", "stderr.log")

	sess, err := store.GetSession(db, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, sess.Status)

	fetched, err := store.GetTask(db, task.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.ActiveSessionID)

	events, err := store.ListEventsSince(db, 0, 100)
	require.NoError(t, err)
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, domain.EventSessionCompleted)
}

func TestOnSessionTerminatedFailureMarksSessionFailedAndRetriesTask(t *testing.T) {
	sched, db := setupScheduler(t)

	task, err := store.CreateTask(db, &domain.Task{Title: "Task", Complexity: "simple"})
	require.NoError(t, err)

	var sessionID int64
	require.NoError(t, store.Transact(db, func(tx *sql.Tx) error {
		id, err := store.CreateSession(tx, &domain.Session{TaskID: task.ID, WorkingDir: t.TempDir()})
		sessionID = id
		return err
	}))

	sched.OnSessionTerminated(sessionID, 1, "stdout.log", "stderr.log")

	sess, err := store.GetSession(db, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, sess.Status)

	fetched, err := store.GetTask(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fetched.Status, "under the retry budget a failed session retries the task")
	assert.Equal(t, 1, fetched.Metadata.RetryCount())
	assert.NotEmpty(t, fetched.Metadata.Error())
}

func TestOnSessionTerminatedSkipsTransitionForAlreadyTerminalTask(t *testing.T) {
	sched, db := setupScheduler(t)

	task, err := store.CreateTask(db, &domain.Task{Title: "Task", Complexity: "simple"})
	require.NoError(t, err)

	var sessionID int64
	require.NoError(t, store.Transact(db, func(tx *sql.Tx) error {
		id, err := store.CreateSession(tx, &domain.Session{TaskID: task.ID, WorkingDir: t.TempDir()})
		sessionID = id
		if err != nil {
			return err
		}
		return store.SetTaskActiveSession(tx, task.ID, &id)
	}))

	require.NoError(t, sched.CancelTask(context.Background(), task.ID))

	// The session's process is killed asynchronously by CancelTask; its
	// eventual exit must not resurrect the task out of its cancelled state.
	sched.OnSessionTerminated(sessionID, 1, "stdout.log", "stderr.log")

	fetched, err := store.GetTask(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, fetched.Status, "a cancelled task must stay cancelled")
}
