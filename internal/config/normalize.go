package config

import (
	"fmt"
	"path"
	"strings"
)

// normalize expands path fields, trims string values, and fills defaults for
// fields that were left empty in the parsed file.
func (c *Config) normalize() error {
	var err error

	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("normalize state_dir: %w", err)
	}
	if c.Paths.WorkspaceDir, err = expandPath(strings.TrimSpace(c.Paths.WorkspaceDir)); err != nil {
		return fmt.Errorf("normalize workspace_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("normalize log_dir: %w", err)
	}
	if c.Paths.SocketPath, err = expandPath(strings.TrimSpace(c.Paths.SocketPath)); err != nil {
		return fmt.Errorf("normalize socket_path: %w", err)
	}

	targets := make([]string, 0, len(c.Paths.AllowedTargets))
	for _, target := range c.Paths.AllowedTargets {
		cleaned := path.Clean(strings.Trim(strings.TrimSpace(target), "/"))
		if cleaned == "" || cleaned == "." {
			continue
		}
		targets = append(targets, cleaned)
	}
	c.Paths.AllowedTargets = targets

	if len(c.Workflow.Sequences) == 0 {
		c.Workflow.Sequences = DefaultSequences()
	} else {
		// Merge defaults for workflow types the file does not mention.
		for workflowType, phases := range DefaultSequences() {
			if _, ok := c.Workflow.Sequences[workflowType]; !ok {
				c.Workflow.Sequences[workflowType] = phases
			}
		}
	}
	for workflowType, phases := range c.Workflow.Sequences {
		normalized := make([]string, 0, len(phases))
		for _, phase := range phases {
			phase = strings.ToLower(strings.TrimSpace(phase))
			if phase != "" {
				normalized = append(normalized, phase)
			}
		}
		c.Workflow.Sequences[workflowType] = normalized
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	c.Agent.Command = strings.TrimSpace(c.Agent.Command)

	return nil
}
