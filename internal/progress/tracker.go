package progress

import (
	"fmt"
	"sync"

	"conductor/internal/queue"
)

// maxStageWeight is the weight of a completed item.
const maxStageWeight = 5

// StageWeight returns the contribution of a stage toward aggregate progress.
// Failure stages contribute nothing: aggregate progress measures completed
// work, not attempted work.
func StageWeight(stage queue.Stage) int {
	if rank, ok := stage.Rank(); ok {
		return rank
	}
	return 0
}

// AggregateItems computes the aggregate completion percentage for a snapshot
// of work items: sum of per-item stage weights over total items times the
// maximum stage weight.
func AggregateItems(items []*queue.Item) float64 {
	if len(items) == 0 {
		return 0
	}
	total := 0
	for _, item := range items {
		total += StageWeight(item.Stage)
	}
	return float64(total) / float64(len(items)*maxStageWeight) * 100
}

// Tracker follows work items through their lifecycle and exposes aggregate
// completion. It is safe for concurrent use across waves and phases, and
// refuses per-item stage regression except the explicit failure transitions.
type Tracker struct {
	mu     sync.RWMutex
	stages map[int64]queue.Stage
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stages: make(map[int64]queue.Stage)}
}

// Track seeds the tracker with items, keeping their current stages.
func (t *Tracker) Track(items ...*queue.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range items {
		if item == nil {
			continue
		}
		t.stages[item.ID] = item.Stage
	}
}

// Advance records a stage change for a tracked item. Regressions are
// rejected; failure and manual-review transitions follow the same rules the
// store enforces.
func (t *Tracker) Advance(itemID int64, stage queue.Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.stages[itemID]
	if !ok {
		t.stages[itemID] = stage
		return nil
	}
	if !current.CanTransition(stage) {
		return fmt.Errorf("progress regression for item %d: %s -> %s", itemID, current, stage)
	}
	t.stages[itemID] = stage
	return nil
}

// StageOf returns the tracked stage for an item.
func (t *Tracker) StageOf(itemID int64) (queue.Stage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stage, ok := t.stages[itemID]
	return stage, ok
}

// Aggregate returns the overall completion percentage across all tracked items.
func (t *Tracker) Aggregate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.stages) == 0 {
		return 0
	}
	total := 0
	for _, stage := range t.stages {
		total += StageWeight(stage)
	}
	return float64(total) / float64(len(t.stages)*maxStageWeight) * 100
}

// Completed counts tracked items that reached completed among the given
// item IDs.
func (t *Tracker) Completed(itemIDs []int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, id := range itemIDs {
		if t.stages[id] == queue.StageCompleted {
			count++
		}
	}
	return count
}
