package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIdempotentReplaysSecondCallWithoutRerunningFn(t *testing.T) {
	db := setupTestDB(t)

	calls := 0
	fn := func(tx *sql.Tx) (string, error) {
		calls++
		return `{"ok":true}`, nil
	}

	result1, replayed1, err := RunIdempotent(db, "agent", "req-1", "test.op", fn)
	require.NoError(t, err)
	assert.False(t, replayed1)
	assert.Equal(t, `{"ok":true}`, result1)

	result2, replayed2, err := RunIdempotent(db, "agent", "req-1", "test.op", fn)
	require.NoError(t, err)
	assert.True(t, replayed2)
	assert.Equal(t, result1, result2)

	assert.Equal(t, 1, calls, "fn must not run again for a replayed request id")
}

func TestRunIdempotentDistinctRequestIDsRunIndependently(t *testing.T) {
	db := setupTestDB(t)

	calls := 0
	fn := func(tx *sql.Tx) (string, error) {
		calls++
		return `{}`, nil
	}

	_, _, err := RunIdempotent(db, "agent", "req-a", "test.op", fn)
	require.NoError(t, err)
	_, _, err = RunIdempotent(db, "agent", "req-b", "test.op", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestRunIdempotentFnErrorDoesNotPoisonTheRequestID(t *testing.T) {
	db := setupTestDB(t)

	first := true
	fn := func(tx *sql.Tx) (string, error) {
		if first {
			first = false
			return "", assert.AnError
		}
		return `{"ok":true}`, nil
	}

	_, _, err := RunIdempotent(db, "agent", "req-retry", "test.op", fn)
	assert.Error(t, err)

	result, replayed, err := RunIdempotent(db, "agent", "req-retry", "test.op", fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, `{"ok":true}`, result)
}
