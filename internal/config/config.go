package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	StateDir       string   `toml:"state_dir"`
	WorkspaceDir   string   `toml:"workspace_dir"`
	LogDir         string   `toml:"log_dir"`
	SocketPath     string   `toml:"socket_path"`
	AllowedTargets []string `toml:"allowed_targets"`
}

// Workflow contains phase sequencing and controller timing settings.
type Workflow struct {
	// Sequences maps a workflow type to its ordered phase list. Entries here
	// override the built-in defaults for new-project and existing-project.
	Sequences map[string][]string `toml:"sequences"`
	// RequiredKeys lists configuration keys a workflow start request must carry.
	RequiredKeys       []string `toml:"required_keys"`
	QueuePollInterval  int      `toml:"queue_poll_interval"`
	ErrorRetryInterval int      `toml:"error_retry_interval"`
	HeartbeatInterval  int      `toml:"heartbeat_interval"`
	HeartbeatTimeout   int      `toml:"heartbeat_timeout"`
}

// Detector contains stuck-state detection settings.
type Detector struct {
	CheckInterval   int `toml:"check_interval"`
	StallThreshold  int `toml:"stall_threshold"`
	NoProgressGrace int `toml:"no_progress_grace"`
}

// Checkpoints contains snapshot cadence and retention settings.
type Checkpoints struct {
	IntervalMinutes      int     `toml:"interval_minutes"`
	ProgressDeltaPercent float64 `toml:"progress_delta_percent"`
	Keep                 int     `toml:"keep"`
	MinDiskMiB           int64   `toml:"min_disk_mib"`
}

// Coordinator contains wave dispatch and resource pool settings.
type Coordinator struct {
	Slots       int   `toml:"slots"`
	MemoryUnits int64 `toml:"memory_units"`
}

// Retry contains per-class retry policy settings.
type Retry struct {
	TransientMaxAttempts   int `toml:"transient_max_attempts"`
	TransientBackoffBaseMS int `toml:"transient_backoff_base_ms"`
	PermissionMaxAttempts  int `toml:"permission_max_attempts"`
	PermissionDelaySeconds int `toml:"permission_delay_seconds"`
}

// Gates contains approval gate timeout settings.
type Gates struct {
	DefaultTimeoutMinutes int            `toml:"default_timeout_minutes"`
	TimeoutsMinutes       map[string]int `toml:"timeouts_minutes"`
}

// Notifications contains configuration for webhook event publishing.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Agent contains settings for the external command worker.
type Agent struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Conductor.
//
// Configuration sections by subsystem:
//   - Paths: state, workspace, and log directories plus target allow-list
//   - Workflow: phase sequences and controller timing
//   - Detector: stuck-state thresholds
//   - Checkpoints: snapshot cadence and retention
//   - Coordinator: wave concurrency and resource pool capacity
//   - Retry: per-class retry attempts and delays
//   - Gates: approval gate timeouts
//   - Notifications: webhook event sink
//   - Agent: external worker command
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Detector      Detector      `toml:"detector"`
	Checkpoints   Checkpoints   `toml:"checkpoints"`
	Coordinator   Coordinator   `toml:"coordinator"`
	Retry         Retry         `toml:"retry"`
	Gates         Gates         `toml:"gates"`
	Notifications Notifications `toml:"notifications"`
	Agent         Agent         `toml:"agent"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conductor/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conductor.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.WorkspaceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CheckpointDir returns the directory holding checkpoint documents.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Paths.StateDir, "checkpoints")
}

// StatePath returns the path of the current workflow state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "state.json")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
