package ratelimit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMissingFileIsUnknownNotError(t *testing.T) {
	snap := Probe(filepath.Join(t.TempDir(), "does-not-exist.json"))

	assert.Equal(t, "unknown", snap.Tier)
	assert.False(t, snap.IsLimited)
}

func TestProbeMalformedFileIsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	snap := Probe(path)

	assert.Equal(t, "unknown", snap.Tier)
	assert.False(t, snap.IsLimited)
}

func TestProbeReadsLimitedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage_cache.json")
	body := `{"tier":"pro","messages_used":95,"messages_limit":100,"is_limited":true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	snap := Probe(path)

	assert.Equal(t, "pro", snap.Tier)
	assert.True(t, snap.IsLimited)
	assert.Equal(t, 95.0, snap.PercentUsed)
}

func TestProbeEmptyPathIsUnknown(t *testing.T) {
	snap := Probe("")

	assert.Equal(t, "unknown", snap.Tier)
	assert.False(t, snap.IsLimited)
}

func TestDefaultCachePathHonorsOverrideEnvVar(t *testing.T) {
	t.Setenv("AGENTQUEUE_RATE_LIMIT_CACHE", "/tmp/custom-cache.json")
	assert.Equal(t, "/tmp/custom-cache.json", DefaultCachePath())
}
