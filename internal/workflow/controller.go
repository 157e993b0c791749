package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/checkpoint"
	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/logging"
	"conductor/internal/progress"
	"conductor/internal/queue"
)

// Controller owns the workflow state machine. Every state mutation happens
// behind its mutex and is persisted before the call returns, so the on-disk
// document never trails what callers observed.
type Controller struct {
	cfg         *config.Config
	store       *queue.Store
	logger      *slog.Logger
	notifier    events.Service
	sequences   Sequences
	gates       gatePolicy
	checkpoints *checkpoint.Manager
	snapshots   *checkpoint.Scheduler

	mu    sync.RWMutex
	state *State

	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

// NewController loads any persisted state and prepares the controller. A
// corrupt state document fails construction rather than silently starting
// fresh.
func NewController(cfg *config.Config, store *queue.Store, checkpoints *checkpoint.Manager, logger *slog.Logger, notifier events.Service) (*Controller, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = events.NewNoop()
	}
	controller := &Controller{
		cfg:         cfg,
		store:       store,
		logger:      logging.NewComponentLogger(logger, "workflow"),
		notifier:    notifier,
		sequences:   NewSequences(cfg),
		gates:       gatePolicy{cfg: cfg.Gates},
		checkpoints: checkpoints,
	}
	controller.snapshots = checkpoint.NewScheduler(cfg.Checkpoints, checkpoints, controller.checkpointSnapshot, logger)

	state, err := loadState(cfg.StatePath(), controller.sequences)
	if err != nil {
		return nil, err
	}
	controller.state = state
	return controller, nil
}

// Start begins a new workflow of the given type. It fails with
// ErrAlreadyActive while another workflow is running and with
// ErrInvalidConfiguration when the type is unknown or required configuration
// keys are missing.
func (c *Controller) Start(ctx context.Context, workflowType string, configuration map[string]string) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil && c.state.Status == StatusActive {
		return nil, fmt.Errorf("%w: workflow %s is in phase %s", ErrAlreadyActive, c.state.WorkflowID, c.state.CurrentPhase)
	}
	phases, ok := c.sequences.Phases(workflowType)
	if !ok || len(phases) == 0 {
		return nil, fmt.Errorf("%w: unknown workflow type %q", ErrInvalidConfiguration, workflowType)
	}
	if missing := c.missingKeys(configuration); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required keys %s", ErrInvalidConfiguration, strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	state := &State{
		SchemaVersion:   StateSchemaVersion,
		WorkflowID:      uuid.NewString(),
		WorkflowType:    workflowType,
		Status:          StatusActive,
		CurrentPhase:    phases[0],
		PhaseIndex:      0,
		PhasesCompleted: []string{},
		Configuration:   configuration,
		StartedAt:       now,
		PhaseStartedAt:  now,
		UpdatedAt:       now,
	}
	if err := saveState(c.cfg.StatePath(), state); err != nil {
		return nil, err
	}
	c.state = state

	logger := logging.WithContext(ctx, c.logger)
	logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String("workflow_type", workflowType),
		logging.String(logging.FieldPhase, state.CurrentPhase),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	c.publish(ctx, events.EventWorkflowStarted, events.Payload{
		"workflowID": state.WorkflowID,
		"type":       workflowType,
	})
	c.publish(ctx, events.EventPhaseStarted, events.Payload{
		"workflowID": state.WorkflowID,
		"phase":      state.CurrentPhase,
	})
	return state.clone(), nil
}

// Resume restores the identified workflow from its most recent valid
// checkpoint, falling back to the current state document when no checkpoints
// exist. The phase index is re-derived from the phase name and the restored
// state must pass validation before it becomes current.
func (c *Controller) Resume(ctx context.Context, workflowID string) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.restoreCandidate()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: nothing to resume", ErrNoActiveWorkflow)
	}
	if workflowID != "" && state.WorkflowID != workflowID {
		return nil, fmt.Errorf("%w: persisted workflow is %s, not %s", ErrNoActiveWorkflow, state.WorkflowID, workflowID)
	}
	if state.Status != StatusActive {
		return nil, fmt.Errorf("%w: workflow %s is %s", ErrNoActiveWorkflow, state.WorkflowID, state.Status)
	}

	phases, ok := c.sequences.Phases(state.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow type %q", ErrCorruptState, state.WorkflowType)
	}
	index, ok := phaseIndex(phases, state.CurrentPhase)
	if !ok {
		return nil, fmt.Errorf("%w: phase %q is not in the %s sequence", ErrCorruptState, state.CurrentPhase, state.WorkflowType)
	}
	state.PhaseIndex = index
	if err := state.Validate(c.sequences); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now().UTC()
	if err := saveState(c.cfg.StatePath(), state); err != nil {
		return nil, err
	}
	c.state = state

	cutoff := time.Now().Add(-time.Duration(c.cfg.Workflow.HeartbeatTimeout) * time.Second)
	reclaimed, err := c.store.ReclaimStaleInFlight(ctx, state.WorkflowID, cutoff)
	if err != nil {
		c.logger.Warn("stale item reclaim failed", logging.Error(err))
	} else if reclaimed > 0 {
		c.logger.Info("requeued stale in-flight items",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldWorkflowID, state.WorkflowID),
		)
	}

	logging.WithContext(ctx, c.logger).Info("workflow resumed",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String(logging.FieldPhase, state.CurrentPhase),
		logging.String(logging.FieldEventType, "workflow_resumed"),
	)
	return state.clone(), nil
}

func (c *Controller) restoreCandidate() (*State, error) {
	if c.checkpoints != nil {
		cp, err := c.checkpoints.Latest()
		switch {
		case err == nil:
			var restored State
			if err := json.Unmarshal(cp.State, &restored); err != nil {
				return nil, fmt.Errorf("%w: checkpoint %d: %v", ErrCorruptState, cp.Sequence, err)
			}
			return &restored, nil
		case errors.Is(err, checkpoint.ErrNotFound):
		default:
			return nil, err
		}
	}
	return loadState(c.cfg.StatePath(), c.sequences)
}

// RestoreCheckpoint replaces the in-memory state with the identified
// checkpoint's snapshot. Other checkpoints are untouched. The restored state
// must pass validation before it becomes current.
func (c *Controller) RestoreCheckpoint(ctx context.Context, sequence int64) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, err := c.checkpoints.Restore(sequence)
	if err != nil {
		return nil, err
	}
	var restored State
	if err := json.Unmarshal(cp.State, &restored); err != nil {
		return nil, fmt.Errorf("%w: checkpoint %d: %v", ErrCorruptState, sequence, err)
	}
	phases, ok := c.sequences.Phases(restored.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow type %q", ErrCorruptState, restored.WorkflowType)
	}
	if index, found := phaseIndex(phases, restored.CurrentPhase); found {
		restored.PhaseIndex = index
	}
	if err := restored.Validate(c.sequences); err != nil {
		return nil, err
	}
	restored.UpdatedAt = time.Now().UTC()
	if err := saveState(c.cfg.StatePath(), &restored); err != nil {
		return nil, err
	}
	c.state = &restored

	logging.WithContext(ctx, c.logger).Info("state restored from checkpoint",
		logging.String(logging.FieldWorkflowID, restored.WorkflowID),
		logging.Int64("sequence", sequence),
		logging.String(logging.FieldPhase, restored.CurrentPhase),
		logging.String(logging.FieldEventType, "checkpoint_restored"),
	)
	return restored.clone(), nil
}

// AdvancePhase moves the workflow to the next phase once every work item in
// the current phase is completed or waived and any approval gate has been
// approved. Completing the final phase marks the workflow completed.
func (c *Controller) AdvancePhase(ctx context.Context) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	if state == nil || state.Status != StatusActive {
		return nil, ErrNoActiveWorkflow
	}
	now := time.Now().UTC()

	if gate := c.gates.gateFor(state); gate != "" && !state.GateApproved(gate) {
		return nil, c.blockOnGate(ctx, state, gate, now)
	}

	outstanding, err := c.store.OutstandingByPhase(ctx, state.WorkflowID, state.CurrentPhase)
	if err != nil {
		return nil, fmt.Errorf("scan outstanding items: %w", err)
	}
	if len(outstanding) > 0 {
		paths := make([]string, 0, len(outstanding))
		for _, item := range outstanding {
			paths = append(paths, item.Path)
		}
		sort.Strings(paths)
		return nil, &PhaseIncompleteError{Phase: state.CurrentPhase, Outstanding: paths}
	}

	finished := state.CurrentPhase
	state.PhasesCompleted = append(state.PhasesCompleted, finished)
	state.AwaitingApproval = ""
	state.GateOpenedAt = time.Time{}
	state.UpdatedAt = now

	phases, _ := c.sequences.Phases(state.WorkflowType)
	last := state.PhaseIndex+1 >= len(phases)
	if last {
		state.Status = StatusCompleted
	} else {
		state.PhaseIndex++
		state.CurrentPhase = phases[state.PhaseIndex]
		state.PhaseStartedAt = now
	}
	if err := saveState(c.cfg.StatePath(), state); err != nil {
		return nil, err
	}

	logger := logging.WithContext(ctx, c.logger)
	logger.Info("phase completed",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String(logging.FieldPhase, finished),
		logging.String(logging.FieldEventType, "phase_completed"),
	)
	c.publish(ctx, events.EventPhaseCompleted, events.Payload{
		"workflowID": state.WorkflowID,
		"phase":      finished,
	})
	if last {
		c.publish(ctx, events.EventWorkflowCompleted, events.Payload{
			"workflowID": state.WorkflowID,
		})
	} else {
		c.publish(ctx, events.EventPhaseStarted, events.Payload{
			"workflowID": state.WorkflowID,
			"phase":      state.CurrentPhase,
		})
	}

	if err := c.snapshots.PhaseComplete(ctx, state.clone(), c.aggregateProgress(ctx, state)); err != nil {
		logger.Warn("phase-complete checkpoint failed", logging.Error(err))
	}
	return state.clone(), nil
}

// blockOnGate opens, re-prompts, or reports the gate guarding the current
// phase. Gate timeouts are recoverable: the gate re-opens and the timeout is
// surfaced as an event, never as a workflow abort.
func (c *Controller) blockOnGate(ctx context.Context, state *State, gate string, now time.Time) error {
	logger := logging.WithContext(ctx, c.logger)
	if state.AwaitingApproval == "" {
		state.AwaitingApproval = gate
		state.GateOpenedAt = now
		state.UpdatedAt = now
		if err := saveState(c.cfg.StatePath(), state); err != nil {
			return err
		}
		logger.Info("approval gate opened",
			logging.String(logging.FieldWorkflowID, state.WorkflowID),
			logging.String("gate", gate),
			logging.String(logging.FieldEventType, "gate_opened"),
		)
		c.publish(ctx, events.EventGateOpened, events.Payload{
			"workflowID": state.WorkflowID,
			"gate":       gate,
			"timeout":    c.gates.timeoutFor(gate).String(),
		})
		return fmt.Errorf("%w: gate %s awaiting approval", ErrGatePending, gate)
	}
	if c.gates.expired(state, now) {
		elapsed := now.Sub(state.GateOpenedAt).Round(time.Second)
		state.GateOpenedAt = now
		state.UpdatedAt = now
		if err := saveState(c.cfg.StatePath(), state); err != nil {
			return err
		}
		logger.Warn("approval gate timed out, re-prompting",
			logging.String(logging.FieldWorkflowID, state.WorkflowID),
			logging.String("gate", gate),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "gate_timeout"),
		)
		c.publish(ctx, events.EventGateTimeout, events.Payload{
			"workflowID": state.WorkflowID,
			"gate":       gate,
			"outcome":    string(GateTimedOut),
			"elapsed":    elapsed.String(),
		})
		return fmt.Errorf("%w: gate %s timed out and was re-opened", ErrGatePending, gate)
	}
	return fmt.Errorf("%w: gate %s awaiting approval", ErrGatePending, gate)
}

// ResolveGate records the outcome of the open approval gate. A rejected gate
// re-arms: the next AdvancePhase re-opens it.
func (c *Controller) ResolveGate(ctx context.Context, gate string, outcome GateOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	if state == nil || state.Status != StatusActive {
		return ErrNoActiveWorkflow
	}
	if state.AwaitingApproval != gate {
		return fmt.Errorf("gate %q is not open", gate)
	}
	switch outcome {
	case GateApproved:
		state.ApprovedGates = append(state.ApprovedGates, gate)
	case GateRejected:
	default:
		return fmt.Errorf("outcome %q cannot be applied externally", outcome)
	}
	state.AwaitingApproval = ""
	state.GateOpenedAt = time.Time{}
	state.UpdatedAt = time.Now().UTC()
	if err := saveState(c.cfg.StatePath(), state); err != nil {
		return err
	}

	logging.WithContext(ctx, c.logger).Info("approval gate resolved",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String("gate", gate),
		logging.String("outcome", string(outcome)),
		logging.String(logging.FieldEventType, "gate_resolved"),
	)
	c.publish(ctx, events.EventGateResolved, events.Payload{
		"workflowID": state.WorkflowID,
		"gate":       gate,
		"outcome":    string(outcome),
	})
	return nil
}

// Cancel aborts the active workflow. A final checkpoint lands before the
// abort is persisted so the workflow stays resumable from its last good
// state.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	if state == nil || state.Status != StatusActive {
		return ErrNoActiveWorkflow
	}
	if err := c.snapshots.PreRiskyOp(ctx, state.clone(), c.aggregateProgress(ctx, state)); err != nil {
		c.logger.Warn("pre-cancel checkpoint failed", logging.Error(err))
	}

	state.Status = StatusAborted
	state.UpdatedAt = time.Now().UTC()
	if err := saveState(c.cfg.StatePath(), state); err != nil {
		return err
	}

	logging.WithContext(ctx, c.logger).Info("workflow cancelled",
		logging.String(logging.FieldWorkflowID, state.WorkflowID),
		logging.String(logging.FieldPhase, state.CurrentPhase),
		logging.String(logging.FieldEventType, "workflow_cancelled"),
	)
	c.publish(ctx, events.EventWorkflowCancelled, events.Payload{
		"workflowID": state.WorkflowID,
		"phase":      state.CurrentPhase,
	})
	return nil
}

// Current returns a copy of the in-memory state, or nil when no workflow has
// ever been started.
func (c *Controller) Current() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return nil
	}
	return c.state.clone()
}

// PreRiskyCheckpoint snapshots state before an operation that could corrupt
// it, such as a destructive retry.
func (c *Controller) PreRiskyCheckpoint(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == nil {
		return ErrNoActiveWorkflow
	}
	return c.snapshots.PreRiskyOp(ctx, state.clone(), c.aggregateProgress(ctx, state))
}

// StartBackground launches the checkpoint trigger loop and the stale
// heartbeat reclaimer.
func (c *Controller) StartBackground(ctx context.Context) {
	c.snapshots.Start(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	c.bgCancel = cancel
	c.bgDone = make(chan struct{})
	go c.reclaimLoop(runCtx)
}

// StopBackground halts the background loops, letting any in-flight checkpoint
// write finish first.
func (c *Controller) StopBackground() {
	c.snapshots.Stop()
	if c.bgCancel != nil {
		c.bgCancel()
		<-c.bgDone
		c.bgCancel = nil
	}
}

func (c *Controller) reclaimLoop(ctx context.Context) {
	defer close(c.bgDone)
	interval := time.Duration(c.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := c.Current()
			if state == nil || state.Status != StatusActive {
				continue
			}
			cutoff := time.Now().Add(-time.Duration(c.cfg.Workflow.HeartbeatTimeout) * time.Second)
			reclaimed, err := c.store.ReclaimStaleInFlight(ctx, state.WorkflowID, cutoff)
			if err != nil {
				c.logger.Warn("stale item reclaim failed", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				c.logger.Warn("requeued stale in-flight items",
					logging.Int64("count", reclaimed),
					logging.String(logging.FieldWorkflowID, state.WorkflowID),
				)
			}
		}
	}
}

func (c *Controller) checkpointSnapshot(ctx context.Context) (any, float64, error) {
	state := c.Current()
	if state == nil || state.Status != StatusActive {
		return nil, 0, nil
	}
	return state, c.aggregateProgress(ctx, state), nil
}

func (c *Controller) aggregateProgress(ctx context.Context, state *State) float64 {
	items, err := c.store.List(ctx, state.WorkflowID)
	if err != nil {
		c.logger.Warn("progress aggregation failed", logging.Error(err))
		return 0
	}
	return progress.AggregateItems(items)
}

func (c *Controller) missingKeys(configuration map[string]string) []string {
	var missing []string
	for _, key := range c.cfg.Workflow.RequiredKeys {
		if strings.TrimSpace(configuration[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// publish forwards an event to the notification sink. Delivery is best
// effort; a failed notification never fails the workflow operation.
func (c *Controller) publish(ctx context.Context, event events.Event, payload events.Payload) {
	if err := c.notifier.Publish(ctx, event, payload); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}
