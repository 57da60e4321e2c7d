package agentrunner

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOnUnknownSessionIsNoOp(t *testing.T) {
	r := New(nil)
	assert.NoError(t, r.Cancel(999))
}

func TestListRunningOnEmptyRunnerIsEmptyNotNil(t *testing.T) {
	r := New(nil)
	out := r.ListRunning()
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSpawnCapturesOutputAndInvokesOnComplete(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")

	var mu sync.Mutex
	var gotSessionID int64
	var gotExitCode int
	done := make(chan struct{})

	onComplete := func(sessionID int64, exitCode int, stdout, stderr string) {
		mu.Lock()
		gotSessionID = sessionID
		gotExitCode = exitCode
		mu.Unlock()
		close(done)
	}

	r := New(onComplete)
	pid, err := r.Spawn(Spec{
		SessionID:  42,
		Command:    "/bin/echo",
		Prompt:     "hello from a test",
		WorkingDir: dir,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	require.NoError(t, err)
	assert.Positive(t, pid)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("onComplete was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 42, gotSessionID)
	assert.Equal(t, 0, gotExitCode)

	_, err = os.Stat(stdoutPath)
	assert.NoError(t, err, "stdout capture file should exist")
}

func TestSpawnDefaultsCommandToClaude(t *testing.T) {
	dir := t.TempDir()
	r := New(nil)

	spec := Spec{
		SessionID:  1,
		Prompt:     "x",
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "stdout.log"),
		StderrPath: filepath.Join(dir, "stderr.log"),
	}
	// claude is unlikely to be on PATH in a test environment; Spawn should
	// still attempt to default spec.Command and fail at exec, not earlier.
	_, err := r.Spawn(spec)
	if err != nil {
		assert.Contains(t, err.Error(), "start agent cli")
	}
}

func TestListRunningReflectsInFlightProcess(t *testing.T) {
	dir := t.TempDir()
	done := make(chan struct{})

	r := New(func(sessionID int64, exitCode int, stdout, stderr string) {
		close(done)
	})
	_, err := r.Spawn(Spec{
		SessionID:  7,
		Command:    "/bin/echo",
		Prompt:     "unused",
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "stdout.log"),
		StderrPath: filepath.Join(dir, "stderr.log"),
	})
	require.NoError(t, err)

	// The entry is added to procs synchronously, before wait() starts in its
	// own goroutine, so it is deterministically present right after Spawn
	// returns even though the child itself may finish immediately after.
	running := r.ListRunning()
	require.Len(t, running, 1)
	assert.EqualValues(t, 7, running[0].SessionID)
	assert.Positive(t, running[0].PID)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("onComplete was never invoked")
	}
	assert.Empty(t, r.ListRunning())
}
