package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Settings/LoadSettings use a package-level sync.Once singleton, so every
// test in this file shares one load. Point HOME at an empty temp dir before
// any test can trigger it, so config.yaml is never found and Effective()
// always falls back to defaults regardless of test order.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "agentqueue-config-test-home")
	if err != nil {
		panic(err)
	}
	_ = os.Setenv("HOME", home)
	os.Exit(m.Run())
}

func TestEffectiveAppliesDefaultsWithNoConfigFile(t *testing.T) {
	eff := Effective()

	assert.Equal(t, DefaultMaxConcurrentTasks, eff.MaxConcurrentTasks)
	assert.Equal(t, DefaultWorktreesDir, eff.WorktreesDir)
	assert.Equal(t, DefaultHeartbeatIntervalSeconds, eff.HeartbeatIntervalSeconds)
	assert.Equal(t, DefaultAssessmentModel, eff.AssessmentModel)
	assert.Equal(t, DefaultHost, eff.Host)
	assert.Equal(t, DefaultPort, eff.Port)
}

func TestGetDBPathHonorsCLIOverrideBeforeEnvVar(t *testing.T) {
	overridePath := filepath.Join(t.TempDir(), "override.db")
	SetDBPathOverride(overridePath)
	defer SetDBPathOverride("")

	t.Setenv("AGENTQUEUE_DB_PATH", filepath.Join(t.TempDir(), "env.db"))

	path, err := GetDBPath()
	require.NoError(t, err)
	assert.Equal(t, overridePath, path)
}

func TestGetDBPathHonorsEnvVarWhenNoOverride(t *testing.T) {
	SetDBPathOverride("")

	envPath := filepath.Join(t.TempDir(), "from-env.db")
	t.Setenv("AGENTQUEUE_DB_PATH", envPath)

	path, err := GetDBPath()
	require.NoError(t, err)
	assert.Equal(t, envPath, path)
}

func TestEnsureDBDirCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "agentqueue.db")

	resolved, err := EnsureDBDir(dbPath)
	require.NoError(t, err)
	assert.Equal(t, dbPath, resolved)

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
