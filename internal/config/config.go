// Package config resolves configuration from config.yaml, environment
// variables, and CLI overrides, following the precedence chain documented in
// settings.go and db.go.
package config

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/agentqueue/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentqueue"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# agentqueue configuration
# Run: agentqueue --help

# Optional: override the SQLite database location.
# Can also be set via AGENTQUEUE_DB_PATH or --db-path.
# db_path: ~/.config/agentqueue/agentqueue.db

# max_concurrent_tasks: 2
# worktrees_dir: ~/agent-queue-worktrees
# heartbeat_interval_seconds: 60
# assessment_model: claude-3-5-haiku-20241022
# host: 127.0.0.1
# port: 8080
`
