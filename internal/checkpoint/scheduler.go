package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conductor/internal/config"
	"conductor/internal/logging"
)

// SnapshotFunc returns the current workflow state to checkpoint together with
// its aggregate progress percentage.
type SnapshotFunc func(ctx context.Context) (state any, progressPercent float64, err error)

// Scheduler decides when periodic checkpoints are due. Two triggers run from
// a background loop: a wall-clock interval and an aggregate progress delta.
// Phase completions and risky operations checkpoint synchronously through
// PhaseComplete and PreRiskyOp.
type Scheduler struct {
	manager  *Manager
	snapshot SnapshotFunc
	interval time.Duration
	delta    float64
	logger   *slog.Logger

	mu          sync.Mutex
	lastWrite   time.Time
	lastPercent float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler from the checkpoint cadence configuration.
func NewScheduler(cfg config.Checkpoints, manager *Manager, snapshot SnapshotFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		manager:   manager,
		snapshot:  snapshot,
		interval:  time.Duration(cfg.IntervalMinutes) * time.Minute,
		delta:     cfg.ProgressDeltaPercent,
		logger:    logging.NewComponentLogger(logger, "checkpoint-scheduler"),
		lastWrite: time.Now(),
	}
}

// Start launches the background trigger loop.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
}

// Stop halts the trigger loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	tick := s.interval / 10
	if tick < time.Second {
		tick = time.Second
	}
	if tick > time.Minute {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Check(ctx); err != nil {
				s.logger.Warn("scheduled checkpoint failed", logging.Error(err))
			}
		}
	}
}

// Check evaluates both periodic triggers once and writes at most one
// checkpoint.
func (s *Scheduler) Check(ctx context.Context) error {
	state, percent, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	s.mu.Lock()
	timerDue := s.interval > 0 && time.Since(s.lastWrite) >= s.interval
	progressDue := s.delta > 0 && percent-s.lastPercent >= s.delta
	s.mu.Unlock()

	switch {
	case progressDue:
		return s.write(ctx, ReasonProgressInterval, state, percent)
	case timerDue:
		return s.write(ctx, ReasonTimer, state, percent)
	}
	return nil
}

// PhaseComplete checkpoints immediately after a phase transition.
func (s *Scheduler) PhaseComplete(ctx context.Context, state any, percent float64) error {
	return s.write(ctx, ReasonPhaseComplete, state, percent)
}

// PreRiskyOp checkpoints immediately before an operation that can corrupt or
// lose workflow state.
func (s *Scheduler) PreRiskyOp(ctx context.Context, state any, percent float64) error {
	return s.write(ctx, ReasonPreRiskyOp, state, percent)
}

func (s *Scheduler) write(ctx context.Context, reason Reason, state any, percent float64) error {
	if _, err := s.manager.Write(ctx, reason, state); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastWrite = time.Now()
	s.lastPercent = percent
	s.mu.Unlock()
	return nil
}
