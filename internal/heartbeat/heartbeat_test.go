package heartbeat

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func newTestHeartbeat(t *testing.T) *Heartbeat {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDB(db) })

	bus := eventbus.New(dbPersister{db: db})
	vcsAdapter := vcs.New(t.TempDir())
	runner := agentrunner.New(nil)
	sched := scheduler.New(db, bus, nil, vcsAdapter, runner, t.TempDir())

	hb := New(db, sched, bus, time.Hour, 2)
	hb.rateLimitPath = filepath.Join(t.TempDir(), "no-such-cache.json")
	return hb
}

func TestRunBeatAlternatesDedupeAssessAndExecuteByParity(t *testing.T) {
	hb := newTestHeartbeat(t)

	diag1 := hb.runBeat(context.Background())
	assert.Equal(t, int64(1), diag1.Beat)
	assert.Equal(t, "assess", diag1.Phase)
	assert.True(t, diag1.DedupeRan)
	assert.True(t, diag1.AssessRan)
	assert.False(t, diag1.ExecuteRan)
	assert.False(t, diag1.RateLimited)

	diag2 := hb.runBeat(context.Background())
	assert.Equal(t, int64(2), diag2.Beat)
	assert.Equal(t, "execute", diag2.Phase)
	assert.True(t, diag2.ExecuteRan)
	assert.False(t, diag2.DedupeRan)
	assert.False(t, diag2.AssessRan)
}

func TestRunBeatSkipsAssessAndExecuteWhenRateLimited(t *testing.T) {
	hb := newTestHeartbeat(t)

	path := filepath.Join(t.TempDir(), "usage_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tier":"pro","is_limited":true}`), 0o600))
	hb.rateLimitPath = path

	diag := hb.runBeat(context.Background())

	assert.True(t, diag.RateLimited)
	assert.False(t, diag.DedupeRan)
	assert.False(t, diag.AssessRan)
	assert.False(t, diag.ExecuteRan)
}

func TestRunBeatRunsGCEveryTenthBeat(t *testing.T) {
	hb := newTestHeartbeat(t)

	var last Diagnostics
	for i := 0; i < 10; i++ {
		last = hb.runBeat(context.Background())
	}

	assert.Equal(t, int64(10), last.Beat)
	assert.True(t, last.GCRan)
}

func TestTriggerRunsExactlyOneBeatSynchronously(t *testing.T) {
	hb := newTestHeartbeat(t)

	diag := hb.Trigger(context.Background())
	assert.Equal(t, int64(1), diag.Beat)
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	hb := newTestHeartbeat(t)
	assert.NotPanics(t, func() { hb.Stop() })
}
