package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/logging"
	"conductor/internal/progress"
	"conductor/internal/queue"
	"conductor/internal/retry"
	"conductor/internal/services"
)

// Coordinator dispatches the queued work items of a phase in conflict-free
// waves. It owns the resource pool and all item state transitions; workers
// only execute and report back.
type Coordinator struct {
	cfg      *config.Config
	store    *queue.Store
	worker   Worker
	recovery *retry.Handler
	pool     *ResourcePool
	tracker  *progress.Tracker
	logger   *slog.Logger
	notifier events.Service

	heartbeatInterval time.Duration
}

// Summary reports what a phase run did.
type Summary struct {
	Waves        int
	Dispatched   int
	Completed    int
	ManualReview int
	Skipped      int
	Cancelled    int
}

// New builds a coordinator with a pool sized from configuration.
func New(cfg *config.Config, store *queue.Store, worker Worker, recovery *retry.Handler, logger *slog.Logger, notifier events.Service) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = events.NewNoop()
	}
	interval := time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Coordinator{
		cfg:               cfg,
		store:             store,
		worker:            worker,
		recovery:          recovery,
		pool:              NewResourcePool(cfg.Coordinator.Slots, cfg.Coordinator.MemoryUnits),
		tracker:           progress.NewTracker(),
		logger:            logging.NewComponentLogger(logger, "coordinator"),
		notifier:          notifier,
		heartbeatInterval: interval,
	}
}

// Pool exposes the resource pool for status reporting.
func (c *Coordinator) Pool() *ResourcePool {
	return c.pool
}

// RunPhase executes all queued items of the given phase to a terminal outcome
// or until the context ends. A dependency cycle aborts before anything is
// dispatched. Item failures never abort the run; they retry or land in
// manual review per the recovery policy.
func (c *Coordinator) RunPhase(ctx context.Context, workflowID, phase string) (*Summary, error) {
	ctx = services.WithPhase(ctx, phase)
	logger := logging.WithContext(ctx, c.logger)

	all, err := c.store.ItemsByPhase(ctx, workflowID, phase)
	if err != nil {
		return nil, fmt.Errorf("load phase items: %w", err)
	}
	var batch []*queue.Item
	var batchIDs []int64
	for _, item := range all {
		if item.Stage == queue.StageQueued && !item.Waived {
			batch = append(batch, item)
			batchIDs = append(batchIDs, item.ID)
		}
	}
	summary := &Summary{}
	if len(batch) == 0 {
		return summary, nil
	}

	// The tracker mirrors item stages in memory for the duration of the run,
	// so the regression guard and the completion tally never rescan the store.
	c.tracker = progress.NewTracker()
	c.tracker.Track(batch...)
	defer func() {
		summary.Completed = c.tracker.Completed(batchIDs)
	}()

	waves, err := ComputeWaves(batch)
	if err != nil {
		logger.Error("wave computation failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "dependency_cycle"),
		)
		return summary, err
	}
	summary.Waves = len(waves)
	logger.Info("phase dispatch starting",
		logging.Int("items", len(batch)),
		logging.Int("waves", len(waves)),
	)

	for waveIndex, wave := range waves {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		c.runWave(services.WithWave(ctx, waveIndex), wave, summary)
	}
	logger.Info("phase dispatch finished",
		logging.Int("completed", c.tracker.Completed(batchIDs)),
		logging.Float64("aggregate", c.tracker.Aggregate()),
	)
	return summary, nil
}

type itemOutcome struct {
	status string
	err    error
}

const (
	outcomeCompleted    = "completed"
	outcomeManualReview = "manual-review"
	outcomeSkipped      = "skipped"
	outcomeCancelled    = "cancelled"
)

// runWave dispatches one wave and waits for every member to settle. Sibling
// failures stay isolated; each item's outcome is collected independently.
func (c *Coordinator) runWave(ctx context.Context, wave []*queue.Item, summary *Summary) {
	logger := logging.WithContext(ctx, c.logger)
	outcomes := make(chan itemOutcome, len(wave))
	var wg sync.WaitGroup
	for _, item := range wave {
		ok, err := c.depsSatisfied(ctx, item)
		if err != nil {
			logger.Warn("dependency check failed", logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			outcomes <- itemOutcome{status: outcomeSkipped, err: err}
			continue
		}
		if !ok {
			// A dependency failed upstream; the item stays queued for a
			// later run once the dependency recovers.
			outcomes <- itemOutcome{status: outcomeSkipped}
			continue
		}
		wg.Add(1)
		go func(item *queue.Item) {
			defer wg.Done()
			outcomes <- c.dispatch(ctx, item)
		}(item)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		summary.Dispatched++
		switch outcome.status {
		case outcomeManualReview:
			summary.ManualReview++
		case outcomeSkipped:
			summary.Dispatched--
			summary.Skipped++
		case outcomeCancelled:
			summary.Cancelled++
		}
		if outcome.err != nil && !errors.Is(outcome.err, context.Canceled) {
			logger.Warn("item settled with error", logging.Error(outcome.err))
		}
	}
}

// dispatch claims pool capacity and drives one item to a terminal outcome,
// retrying per the recovery policy.
func (c *Coordinator) dispatch(ctx context.Context, item *queue.Item) itemOutcome {
	if err := c.pool.Acquire(ctx, item.MemoryUnits); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return itemOutcome{status: outcomeCancelled, err: err}
		}
		return itemOutcome{status: outcomeSkipped, err: err}
	}
	defer c.pool.Release(item.MemoryUnits)

	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, c.logger)

	for {
		if err := c.beginItem(ctx, item); err != nil {
			return itemOutcome{err: err}
		}
		stopHeartbeat := c.startHeartbeat(ctx, item.ID)
		workerErr := c.worker.Execute(ctx, item, func(stage queue.Stage, percent float64, message string) {
			c.reportProgress(ctx, item, stage, percent, message)
		})
		stopHeartbeat()

		if workerErr == nil {
			item.Stage = queue.StageCompleted
			item.SetProgress("Completed", 100)
			if err := c.store.Update(ctx, item); err != nil {
				return itemOutcome{err: fmt.Errorf("persist completion: %w", err)}
			}
			c.tracker.Track(item)
			logger.Info("item completed", logging.String("path", item.Path))
			return itemOutcome{status: outcomeCompleted}
		}
		if ctx.Err() != nil {
			// Cancelled mid-flight; the stale heartbeat reclaimer requeues it.
			return itemOutcome{status: outcomeCancelled, err: ctx.Err()}
		}

		c.publish(ctx, events.EventItemFailed, events.Payload{
			"workflowID": item.WorkflowID,
			"path":       item.Path,
			"error":      workerErr.Error(),
		})
		decision, err := c.recovery.HandleFailure(ctx, item, workerErr)
		if err != nil {
			return itemOutcome{err: err}
		}
		c.tracker.Track(item)
		if decision.Action == retry.ActionManualReview {
			return itemOutcome{status: outcomeManualReview}
		}
		if decision.Delay > 0 {
			select {
			case <-ctx.Done():
				return itemOutcome{status: outcomeCancelled, err: ctx.Err()}
			case <-time.After(decision.Delay):
			}
		}
		if err := c.recovery.Requeue(ctx, item); err != nil {
			return itemOutcome{err: err}
		}
	}
}

func (c *Coordinator) beginItem(ctx context.Context, item *queue.Item) error {
	item.Stage = queue.StageValidating
	item.SetProgress("Validating", item.ProgressPercent)
	if err := c.store.Update(ctx, item); err != nil {
		return fmt.Errorf("mark item in flight: %w", err)
	}
	if err := c.store.UpdateHeartbeat(ctx, item.ID); err != nil {
		return fmt.Errorf("seed heartbeat: %w", err)
	}
	// Re-seeding rather than advancing lets a requeued item start over.
	c.tracker.Track(item)
	return nil
}

// reportProgress persists a worker progress report. Regressive transitions
// are dropped; the lifecycle only moves forward.
func (c *Coordinator) reportProgress(ctx context.Context, item *queue.Item, stage queue.Stage, percent float64, message string) {
	logger := logging.WithContext(ctx, c.logger)
	if err := c.tracker.Advance(item.ID, stage); err != nil {
		logger.Warn("dropping regressive progress report", logging.Error(err))
		return
	}
	item.Stage = stage
	item.SetProgress(message, percent)
	if err := c.store.Update(ctx, item); err != nil {
		logger.Warn("persist progress failed", logging.Error(err))
	}
}

func (c *Coordinator) startHeartbeat(ctx context.Context, itemID int64) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := c.store.UpdateHeartbeat(hbCtx, itemID); err != nil {
					c.logger.Debug("heartbeat update failed",
						logging.Int64(logging.FieldItemID, itemID),
						logging.Error(err),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// depsSatisfied reports whether every declared dependency has completed or
// been waived.
func (c *Coordinator) depsSatisfied(ctx context.Context, item *queue.Item) (bool, error) {
	for _, dep := range item.DependsOn {
		if stage, ok := c.tracker.StageOf(dep); ok && stage == queue.StageCompleted {
			continue
		}
		depItem, err := c.store.GetByID(ctx, dep)
		if err != nil {
			return false, err
		}
		if depItem == nil {
			continue
		}
		if depItem.Stage != queue.StageCompleted && !depItem.Waived {
			return false, nil
		}
	}
	return true, nil
}

func (c *Coordinator) publish(ctx context.Context, event events.Event, payload events.Payload) {
	if err := c.notifier.Publish(ctx, event, payload); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}
