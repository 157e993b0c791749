package workflow

import (
	"context"
	"fmt"
	"time"

	"conductor/internal/queue"
)

// Health summarizes workflow liveness for status output.
type Health struct {
	LastActivity time.Time     `json:"last_activity"`
	StalledFor   time.Duration `json:"stalled_for"`
	Stalled      bool          `json:"stalled"`
}

// Report is the structured status result returned to driver entry points.
type Report struct {
	State    *State      `json:"state,omitempty"`
	Stats    queue.Stats `json:"stats"`
	Progress float64     `json:"progress"`
	Health   Health      `json:"health"`
}

// Status reports the current workflow, its item counts, aggregate progress,
// and a liveness assessment against the stall threshold.
func (c *Controller) Status(ctx context.Context) (*Report, error) {
	state := c.Current()
	if state == nil {
		return &Report{}, nil
	}

	stats, err := c.store.WorkflowStats(ctx, state.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("collect item stats: %w", err)
	}
	report := &Report{
		State:    state,
		Stats:    stats,
		Progress: c.aggregateProgress(ctx, state),
	}

	lastActivity := state.UpdatedAt
	if latest, err := c.store.LatestUpdate(ctx, state.WorkflowID, ""); err == nil && latest.After(lastActivity) {
		lastActivity = latest
	}
	report.Health.LastActivity = lastActivity
	if state.Status == StatusActive {
		stalled := time.Since(lastActivity)
		threshold := time.Duration(c.cfg.Detector.StallThreshold) * time.Second
		if threshold > 0 && stalled >= threshold {
			report.Health.Stalled = true
			report.Health.StalledFor = stalled.Round(time.Second)
		}
	}
	return report, nil
}
