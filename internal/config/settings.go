package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml. Field names
// match snake_case YAML keys and mirror the options named in the external
// interfaces section: MAX_CONCURRENT_TASKS, WORKTREES_DIR,
// HEARTBEAT_INTERVAL_SECONDS, ASSESSMENT_MODEL, HOST, PORT.
type Settings struct {
	DBPath                   string `yaml:"db_path"`
	MaxConcurrentTasks       int    `yaml:"max_concurrent_tasks"`
	WorktreesDir             string `yaml:"worktrees_dir"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	AssessmentModel          string `yaml:"assessment_model"`
	AssessmentTimeoutSeconds int    `yaml:"assessment_timeout_seconds"`
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	MaxRetries               int    `yaml:"max_retries"`
}

const (
	DefaultMaxConcurrentTasks       = 2
	DefaultWorktreesDir             = "~/agent-queue-worktrees"
	DefaultHeartbeatIntervalSeconds = 60
	DefaultAssessmentModel          = "claude-3-5-haiku-20241022"
	DefaultAssessmentTimeoutSeconds = 60
	DefaultHost                     = "127.0.0.1"
	DefaultPort                     = 8080
	DefaultMaxRetries               = 3

	// AssessmentAPIKeyEnvVar is the required environment variable carrying
	// the assessment service's API key.
	AssessmentAPIKeyEnvVar = "AGENTQUEUE_ASSESSMENT_API_KEY"
)

// Effective returns validated runtime settings with defaults applied for any
// zero-valued field. Invalid or missing config values fall back to safe
// defaults rather than erroring — config.yaml is always optional.
func Effective() Settings {
	eff := Settings{
		MaxConcurrentTasks:       DefaultMaxConcurrentTasks,
		WorktreesDir:             DefaultWorktreesDir,
		HeartbeatIntervalSeconds: DefaultHeartbeatIntervalSeconds,
		AssessmentModel:          DefaultAssessmentModel,
		AssessmentTimeoutSeconds: DefaultAssessmentTimeoutSeconds,
		Host:                     DefaultHost,
		Port:                     DefaultPort,
		MaxRetries:               DefaultMaxRetries,
	}

	s, err := LoadSettings()
	if err != nil {
		return eff
	}

	if s.MaxConcurrentTasks > 0 {
		eff.MaxConcurrentTasks = s.MaxConcurrentTasks
	}
	if s.WorktreesDir != "" {
		eff.WorktreesDir = s.WorktreesDir
	}
	if s.HeartbeatIntervalSeconds > 0 {
		eff.HeartbeatIntervalSeconds = s.HeartbeatIntervalSeconds
	}
	if s.AssessmentModel != "" {
		eff.AssessmentModel = s.AssessmentModel
	}
	if s.AssessmentTimeoutSeconds > 0 {
		eff.AssessmentTimeoutSeconds = s.AssessmentTimeoutSeconds
	}
	if s.Host != "" {
		eff.Host = s.Host
	}
	if s.Port > 0 {
		eff.Port = s.Port
	}
	if s.MaxRetries > 0 {
		eff.MaxRetries = s.MaxRetries
	}
	return eff
}

// settingsOnce/settings/settingsErr implement the sync.Once lazy-load
// singleton. dbPathOverrideMu/dbPathOverride implement a mutex-protected
// process-wide override for CLI --db-path. Both are required process-wide
// state and cannot be avoided without threading a config value through every
// call site.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override. Intended for
// CLI flag support (--db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
//  1. ~/.config/agentqueue/config.yaml
//  2. /etc/agentqueue/config.yaml
//  3. ./config.yaml (lowest priority; read only when neither file above exists)
//
// Environment variables are handled separately, by GetDBPath for the
// database path; Effective reads none.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "agentqueue", "config.yaml")); err == nil {
			settings = s
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
