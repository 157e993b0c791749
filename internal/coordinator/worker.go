package coordinator

import (
	"context"

	"conductor/internal/queue"
)

// ProgressFunc lets a worker report an intermediate stage transition for the
// item it is executing. The coordinator persists the transition; regressions
// are rejected there, so a worker can only move an item forward.
type ProgressFunc func(stage queue.Stage, percent float64, message string)

// Worker executes a single work item. A nil return means the item completed;
// an error is classified by the recovery handler. Workers never touch the
// store or the pool; the coordinator owns all shared state.
type Worker interface {
	Execute(ctx context.Context, item *queue.Item, report ProgressFunc) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, item *queue.Item, report ProgressFunc) error

// Execute implements Worker.
func (f WorkerFunc) Execute(ctx context.Context, item *queue.Item, report ProgressFunc) error {
	return f(ctx, item, report)
}
