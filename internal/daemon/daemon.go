package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conductor/internal/checkpoint"
	"conductor/internal/config"
	"conductor/internal/coordinator"
	"conductor/internal/events"
	"conductor/internal/logging"
	"conductor/internal/queue"
	"conductor/internal/retry"
	"conductor/internal/workflow"
)

// Daemon wires the workflow controller, coordinator, and detector together
// and enforces single-instance execution via a file lock. The IPC layer calls
// into it; it owns the background processing loop that keeps dispatching
// queued items for the active phase.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *queue.Store
	controller  *workflow.Controller
	coordinator *coordinator.Coordinator
	detector    *workflow.Detector
	checkpoints *checkpoint.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a daemon from pre-built components.
func New(cfg *config.Config, store *queue.Store, worker coordinator.Worker, logger *slog.Logger, notifier events.Service) (*Daemon, error) {
	if cfg == nil || store == nil || worker == nil {
		return nil, errors.New("daemon requires config, store, and worker")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = events.NewNoop()
	}

	checkpoints, err := checkpoint.NewManager(cfg, logger, notifier)
	if err != nil {
		return nil, err
	}
	controller, err := workflow.NewController(cfg, store, checkpoints, logger, notifier)
	if err != nil {
		return nil, err
	}
	recovery := retry.NewHandler(cfg.Retry, store, logger, notifier)
	lockPath := filepath.Join(cfg.Paths.StateDir, "conductord.lock")

	return &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		controller:  controller,
		coordinator: coordinator.New(cfg, store, worker, recovery, logger, notifier),
		detector:    workflow.NewDetector(cfg, store, controller, logger, notifier),
		checkpoints: checkpoints,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conductord instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.controller.StartBackground(d.ctx)
	d.detector.Start(d.ctx)
	d.wg.Add(2)
	go d.processLoop(d.ctx)
	go d.maintenanceLoop(d.ctx)

	d.running.Store(true)
	d.logger.Info("conductord started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background services and releases the instance lock. In-flight
// checkpoint writes complete before the scheduler stops.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.detector.Stop()
	d.controller.StopBackground()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("conductord stopped")
}

// Close stops the daemon and releases its store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether background processing is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// processLoop drives the coordinator: while a workflow is active and not
// blocked on approval, dispatch whatever is queued for the current phase.
func (d *Daemon) processLoop(ctx context.Context) {
	defer d.wg.Done()
	poll := time.Duration(d.cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	retryDelay := time.Duration(d.cfg.Workflow.ErrorRetryInterval) * time.Second
	if retryDelay <= 0 {
		retryDelay = poll
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state := d.controller.Current()
		if state == nil || state.Status != workflow.StatusActive || state.AwaitingApproval != "" {
			continue
		}
		summary, err := d.coordinator.RunPhase(ctx, state.WorkflowID, state.CurrentPhase)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("phase dispatch failed",
				logging.String(logging.FieldPhase, state.CurrentPhase),
				logging.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		if summary.Dispatched > 0 {
			d.logger.Info("phase dispatch finished",
				logging.String(logging.FieldPhase, state.CurrentPhase),
				logging.Int("completed", summary.Completed),
				logging.Int("manual_review", summary.ManualReview),
				logging.Int("waves", summary.Waves),
			)
		}
	}
}

// maintenanceLoop prunes audit entries past the retention window. Runs once
// at startup and then daily.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()
	retention := time.Duration(d.cfg.Logging.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().UTC().Add(-retention)
		if pruned, err := d.store.PruneAudit(ctx, cutoff); err != nil {
			if !errors.Is(err, context.Canceled) {
				d.logger.Warn("audit prune failed", logging.Error(err))
			}
		} else if pruned > 0 {
			d.logger.Info("pruned audit entries", logging.Int64("entries", pruned))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Controller exposes the workflow controller for IPC handlers.
func (d *Daemon) Controller() *workflow.Controller {
	return d.controller
}

// Checkpoints exposes the checkpoint manager for IPC handlers.
func (d *Daemon) Checkpoints() *checkpoint.Manager {
	return d.checkpoints
}

// Store exposes the work item store for IPC handlers.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

// Pool reports the coordinator's resource pool usage.
func (d *Daemon) Pool() (slots int, memoryUnits int64) {
	return d.coordinator.Pool().InUse()
}

// LockPath returns the instance lock location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// RetryItems requeues failed or manual-review items for another attempt. A
// pre-risky checkpoint lands first so a destructive retry stays recoverable.
// An empty id list retries everything eligible for the active workflow.
func (d *Daemon) RetryItems(ctx context.Context, ids []int64) (int64, error) {
	state := d.controller.Current()
	if state == nil {
		return 0, workflow.ErrNoActiveWorkflow
	}
	if err := d.controller.PreRiskyCheckpoint(ctx); err != nil {
		return 0, fmt.Errorf("checkpoint before retry: %w", err)
	}

	if len(ids) == 0 {
		eligible, err := d.store.List(ctx, state.WorkflowID, queue.StageFailed, queue.StageManualReview)
		if err != nil {
			return 0, err
		}
		for _, item := range eligible {
			ids = append(ids, item.ID)
		}
	}

	var updated int64
	for _, id := range ids {
		requeued, err := d.store.RequeueForRetry(ctx, id)
		if err != nil {
			return updated, err
		}
		if requeued {
			updated++
		}
	}
	return updated, nil
}

// WaiveItem marks an item as waived so it no longer blocks phase advancement.
func (d *Daemon) WaiveItem(ctx context.Context, id int64, reason string) error {
	item, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("work item %d not found", id)
	}
	item.Waived = true
	if reason != "" {
		item.ReviewReason = reason
	}
	return d.store.Update(ctx, item)
}
