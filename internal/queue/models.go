package queue

import (
	"strings"
	"time"
)

// Stage represents the lifecycle of a work item.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageValidating   Stage = "validating"
	StageCreating     Stage = "creating"
	StageWriting      Stage = "writing"
	StageVerifying    Stage = "verifying"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
	StageManualReview Stage = "manual-review"
)

// DaemonStopReason is the error message set when items are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStages = []Stage{
	StageQueued,
	StageValidating,
	StageCreating,
	StageWriting,
	StageVerifying,
	StageCompleted,
	StageFailed,
	StageManualReview,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// stageRank orders the forward lifecycle; terminal failure stages sit outside
// the ordering and are handled explicitly.
var stageRank = map[Stage]int{
	StageQueued:     0,
	StageValidating: 1,
	StageCreating:   2,
	StageWriting:    3,
	StageVerifying:  4,
	StageCompleted:  5,
}

var inFlightStages = map[Stage]struct{}{
	StageValidating: {},
	StageCreating:   {},
	StageWriting:    {},
	StageVerifying:  {},
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// Rank returns the position of a forward-lifecycle stage and whether the
// stage participates in the ordering at all.
func (s Stage) Rank() (int, bool) {
	rank, ok := stageRank[s]
	return rank, ok
}

// IsInFlight reports whether the stage reflects an in-flight operation.
func (s Stage) IsInFlight() bool {
	_, ok := inFlightStages[s]
	return ok
}

// IsTerminal reports whether the stage admits no further transitions.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageManualReview
}

// CanTransition reports whether moving from s to next respects the
// no-regression rule: forward along the lifecycle, any stage to failed, and
// failed to queued (retry) or manual-review (escalation).
func (s Stage) CanTransition(next Stage) bool {
	if s == next {
		return true
	}
	switch next {
	case StageFailed:
		return !s.IsTerminal()
	case StageManualReview:
		return s == StageFailed || s.IsInFlight() || s == StageQueued
	case StageQueued:
		return s == StageFailed
	}
	fromRank, fromOK := s.Rank()
	toRank, toOK := next.Rank()
	if !fromOK || !toOK {
		return false
	}
	return toRank > fromRank
}

// Item represents a work item persisted in SQLite.
type Item struct {
	ID              int64
	WorkflowID      string
	Path            string
	OwningPhase     string
	Stage           Stage
	DependsOn       []int64
	RetryCount      int
	LastErrorClass  string
	ErrorMessage    string
	ProgressPercent float64
	ProgressMessage string
	MemoryUnits     int64
	Waived          bool
	ReviewReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// IsOutstanding reports whether the item still blocks phase advancement.
// Completed and waived items never block; manual-review items block unless
// explicitly waived.
func (i Item) IsOutstanding() bool {
	if i.Stage == StageCompleted {
		return false
	}
	return !i.Waived
}

// SetProgress updates the progress fields together.
func (i *Item) SetProgress(message string, percent float64) {
	i.ProgressMessage = message
	i.ProgressPercent = percent
}

// SetFailed marks the item as failed with the given error class and message.
// Clears the heartbeat; retry bookkeeping is the recovery handler's job.
func (i *Item) SetFailed(class, message string) {
	i.Stage = StageFailed
	i.LastErrorClass = class
	i.ErrorMessage = message
	i.LastHeartbeat = nil
}

// SetManualReview routes the item to manual review with a reason.
func (i *Item) SetManualReview(reason string) {
	i.Stage = StageManualReview
	i.ReviewReason = reason
	i.LastHeartbeat = nil
}

// Stats describes aggregated item counts per key lifecycle stages.
type Stats struct {
	Total        int
	Queued       int
	InFlight     int
	Completed    int
	Failed       int
	ManualReview int
}
