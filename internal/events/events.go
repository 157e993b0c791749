package events

// Event enumerates the workflow milestones published to the notification sink.
type Event string

const (
	EventWorkflowStarted   Event = "workflow_started"
	EventWorkflowCompleted Event = "workflow_completed"
	EventWorkflowCancelled Event = "workflow_cancelled"
	EventPhaseStarted      Event = "phase_started"
	EventPhaseCompleted    Event = "phase_completed"
	EventGateOpened        Event = "gate_opened"
	EventGateResolved      Event = "gate_resolved"
	EventGateTimeout       Event = "gate_timeout"
	EventStuckState        Event = "stuck_state"
	EventNoProgress        Event = "no_progress"
	EventItemFailed        Event = "item_failed"
	EventItemManualReview  Event = "item_manual_review"
	EventCheckpointCreated Event = "checkpoint_created"
)

// Payload carries event-specific values keyed by well-known names
// (workflowID, phase, gate, path, error, elapsed, percent, reason).
type Payload map[string]any

func (p Payload) stringValue(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key]; ok {
		switch val := v.(type) {
		case string:
			return val
		case error:
			return val.Error()
		}
	}
	return ""
}
