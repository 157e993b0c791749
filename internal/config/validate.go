package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateCheckpoints(); err != nil {
		return err
	}
	if err := c.validateCoordinator(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateGates(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.WorkspaceDir == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if len(c.Paths.AllowedTargets) == 0 {
		return errors.New("paths.allowed_targets must list at least one destination prefix")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	for workflowType, phases := range c.Workflow.Sequences {
		if len(phases) == 0 {
			return fmt.Errorf("workflow.sequences.%s must list at least one phase", workflowType)
		}
		seen := make(map[string]struct{}, len(phases))
		for _, phase := range phases {
			if _, dup := seen[phase]; dup {
				return fmt.Errorf("workflow.sequences.%s repeats phase %q", workflowType, phase)
			}
			seen[phase] = struct{}{}
		}
	}
	if c.Workflow.QueuePollInterval < 0 {
		return errors.New("workflow.queue_poll_interval must not be negative")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateDetector() error {
	if c.Detector.CheckInterval <= 0 {
		return errors.New("detector.check_interval must be positive")
	}
	if c.Detector.StallThreshold <= 0 {
		return errors.New("detector.stall_threshold must be positive")
	}
	if c.Detector.NoProgressGrace <= 0 {
		return errors.New("detector.no_progress_grace must be positive")
	}
	return nil
}

func (c *Config) validateCheckpoints() error {
	if c.Checkpoints.IntervalMinutes <= 0 {
		return errors.New("checkpoints.interval_minutes must be positive")
	}
	if c.Checkpoints.ProgressDeltaPercent <= 0 || c.Checkpoints.ProgressDeltaPercent > 100 {
		return errors.New("checkpoints.progress_delta_percent must be in (0, 100]")
	}
	if c.Checkpoints.Keep < 1 {
		return errors.New("checkpoints.keep must be at least 1")
	}
	return nil
}

func (c *Config) validateCoordinator() error {
	if c.Coordinator.Slots < 1 {
		return errors.New("coordinator.slots must be at least 1")
	}
	if c.Coordinator.MemoryUnits < 1 {
		return errors.New("coordinator.memory_units must be at least 1")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.TransientMaxAttempts < 1 {
		return errors.New("retry.transient_max_attempts must be at least 1")
	}
	if c.Retry.TransientBackoffBaseMS < 0 {
		return errors.New("retry.transient_backoff_base_ms must not be negative")
	}
	if c.Retry.PermissionMaxAttempts < 1 {
		return errors.New("retry.permission_max_attempts must be at least 1")
	}
	if c.Retry.PermissionDelaySeconds < 0 {
		return errors.New("retry.permission_delay_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateGates() error {
	if c.Gates.DefaultTimeoutMinutes <= 0 {
		return errors.New("gates.default_timeout_minutes must be positive")
	}
	for name, minutes := range c.Gates.TimeoutsMinutes {
		if minutes <= 0 {
			return fmt.Errorf("gates.timeouts_minutes.%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
