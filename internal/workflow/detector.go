package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/logging"
	"conductor/internal/queue"
)

// Detector watches the active workflow for stalls. It never mutates workflow
// state; findings are surfaced as events for the driver to act on.
//
// Two conditions are reported. A stuck state means the active phase has had
// item or state activity before but none within the stall threshold; it is
// re-reported on every check while the stall persists. No-progress means a
// phase has completed zero items after its grace period; it fires once per
// phase.
type Detector struct {
	store    *queue.Store
	status   func() *State
	progress func(ctx context.Context, state *State) float64
	notifier events.Service
	logger   *slog.Logger

	checkInterval  time.Duration
	stallThreshold time.Duration
	grace          time.Duration

	mu       sync.Mutex
	reported map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDetector builds a detector bound to the controller's view of state.
func NewDetector(cfg *config.Config, store *queue.Store, controller *Controller, logger *slog.Logger, notifier events.Service) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = events.NewNoop()
	}
	return &Detector{
		store:          store,
		status:         controller.Current,
		progress:       controller.aggregateProgress,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "detector"),
		checkInterval:  time.Duration(cfg.Detector.CheckInterval) * time.Second,
		stallThreshold: time.Duration(cfg.Detector.StallThreshold) * time.Second,
		grace:          time.Duration(cfg.Detector.NoProgressGrace) * time.Second,
		reported:       make(map[string]struct{}),
	}
}

// Start launches the periodic liveness check.
func (d *Detector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx)
}

// Stop halts the liveness check and waits for it to exit.
func (d *Detector) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)
	interval := d.checkInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Check(ctx); err != nil {
				d.logger.Warn("liveness check failed", logging.Error(err))
			}
		}
	}
}

// Check runs one liveness evaluation against the active workflow.
func (d *Detector) Check(ctx context.Context) error {
	state := d.status()
	if state == nil || state.Status != StatusActive {
		return nil
	}
	if state.AwaitingApproval != "" {
		// Waiting on a human is not a stall.
		return nil
	}
	now := time.Now()

	lastActivity := state.UpdatedAt
	if latest, err := d.store.LatestUpdate(ctx, state.WorkflowID, state.CurrentPhase); err != nil {
		return fmt.Errorf("latest phase update: %w", err)
	} else if latest.After(lastActivity) {
		lastActivity = latest
	}

	if d.stallThreshold > 0 && now.Sub(lastActivity) >= d.stallThreshold {
		elapsed := now.Sub(lastActivity).Round(time.Second)
		percent := d.progress(ctx, state)
		d.logger.Warn("stuck state detected",
			logging.String(logging.FieldWorkflowID, state.WorkflowID),
			logging.String(logging.FieldPhase, state.CurrentPhase),
			logging.Duration("elapsed", elapsed),
			logging.Float64("progress", percent),
			logging.String(logging.FieldEventType, "stuck_state"),
			logging.Alert("stall"),
		)
		d.publish(ctx, events.EventStuckState, events.Payload{
			"workflowID": state.WorkflowID,
			"phase":      state.CurrentPhase,
			"elapsed":    elapsed.String(),
			"progress":   fmt.Sprintf("%.1f", percent),
		})
	}

	return d.checkNoProgress(ctx, state, now)
}

func (d *Detector) checkNoProgress(ctx context.Context, state *State, now time.Time) error {
	if d.grace <= 0 || state.PhaseStartedAt.IsZero() || now.Sub(state.PhaseStartedAt) < d.grace {
		return nil
	}
	key := state.WorkflowID + "/" + state.CurrentPhase
	d.mu.Lock()
	_, already := d.reported[key]
	d.mu.Unlock()
	if already {
		return nil
	}

	items, err := d.store.ItemsByPhase(ctx, state.WorkflowID, state.CurrentPhase)
	if err != nil {
		return fmt.Errorf("scan phase items: %w", err)
	}
	completed := 0
	for _, item := range items {
		if item.Stage == queue.StageCompleted {
			completed++
		}
	}
	if completed > 0 {
		return nil
	}

	d.mu.Lock()
	d.reported[key] = struct{}{}
	d.mu.Unlock()

	d.logger.Warn("no progress in phase",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String(logging.FieldPhase, state.CurrentPhase),
		logging.Duration("grace", d.grace),
		logging.String(logging.FieldEventType, "no_progress"),
	)
	d.publish(ctx, events.EventNoProgress, events.Payload{
		"workflowID": state.WorkflowID,
		"phase":      state.CurrentPhase,
		"grace":      d.grace.String(),
	})
	return nil
}

func (d *Detector) publish(ctx context.Context, event events.Event, payload events.Payload) {
	if err := d.notifier.Publish(ctx, event, payload); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}
