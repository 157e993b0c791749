package ipc

import (
	"time"

	"conductor/internal/queue"
	"conductor/internal/workflow"
)

// WorkflowStartRequest begins a new workflow.
type WorkflowStartRequest struct {
	Type          string            `json:"type"`
	Configuration map[string]string `json:"configuration"`
}

// WorkflowStartResponse reports the started workflow or the refusal reason.
type WorkflowStartResponse struct {
	Started bool            `json:"started"`
	Message string          `json:"message"`
	State   *workflow.State `json:"state,omitempty"`
}

// WorkflowResumeRequest restores a workflow from its latest checkpoint.
type WorkflowResumeRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// WorkflowResumeResponse reports the resumed workflow state.
type WorkflowResumeResponse struct {
	Resumed bool            `json:"resumed"`
	Message string          `json:"message"`
	State   *workflow.State `json:"state,omitempty"`
}

// AdvanceRequest asks the controller to complete the current phase.
type AdvanceRequest struct{}

// AdvanceResponse reports the advance outcome. When the phase is incomplete,
// Outstanding lists the blocking item paths; when an approval gate blocks,
// Gate names it.
type AdvanceResponse struct {
	Advanced    bool            `json:"advanced"`
	Message     string          `json:"message"`
	Outstanding []string        `json:"outstanding,omitempty"`
	Gate        string          `json:"gate,omitempty"`
	State       *workflow.State `json:"state,omitempty"`
}

// CancelRequest aborts the active workflow.
type CancelRequest struct{}

// CancelResponse reports the cancel outcome.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// GateResolveRequest resolves an open approval gate.
type GateResolveRequest struct {
	Gate     string `json:"gate"`
	Approved bool   `json:"approved"`
}

// GateResolveResponse reports the gate resolution outcome.
type GateResolveResponse struct {
	Resolved bool   `json:"resolved"`
	Message  string `json:"message"`
}

// StatusRequest fetches combined daemon and workflow status.
type StatusRequest struct{}

// StatusResponse aggregates daemon runtime information with the workflow
// status report.
type StatusResponse struct {
	Running    bool             `json:"running"`
	PID        int              `json:"pid"`
	LockPath   string           `json:"lock_path"`
	StorePath  string           `json:"store_path"`
	PoolSlots  int              `json:"pool_slots"`
	PoolMemory int64            `json:"pool_memory"`
	Report     *workflow.Report `json:"report,omitempty"`
}

// Item mirrors a work item for IPC consumers.
type Item struct {
	ID              int64     `json:"id"`
	WorkflowID      string    `json:"workflow_id"`
	Path            string    `json:"path"`
	OwningPhase     string    `json:"owning_phase"`
	Stage           string    `json:"stage"`
	DependsOn       []int64   `json:"depends_on,omitempty"`
	RetryCount      int       `json:"retry_count"`
	LastErrorClass  string    `json:"last_error_class,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ProgressPercent float64   `json:"progress_percent"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	MemoryUnits     int64     `json:"memory_units"`
	Waived          bool      `json:"waived"`
	ReviewReason    string    `json:"review_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func convertItem(item *queue.Item) Item {
	return Item{
		ID:              item.ID,
		WorkflowID:      item.WorkflowID,
		Path:            item.Path,
		OwningPhase:     item.OwningPhase,
		Stage:           string(item.Stage),
		DependsOn:       item.DependsOn,
		RetryCount:      item.RetryCount,
		LastErrorClass:  item.LastErrorClass,
		ErrorMessage:    item.ErrorMessage,
		ProgressPercent: item.ProgressPercent,
		ProgressMessage: item.ProgressMessage,
		MemoryUnits:     item.MemoryUnits,
		Waived:          item.Waived,
		ReviewReason:    item.ReviewReason,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

// ItemAddRequest enqueues a work item for the active workflow.
type ItemAddRequest struct {
	Path        string  `json:"path"`
	Phase       string  `json:"phase"`
	DependsOn   []int64 `json:"depends_on,omitempty"`
	MemoryUnits int64   `json:"memory_units,omitempty"`
}

// ItemAddResponse returns the created item.
type ItemAddResponse struct {
	Added   bool   `json:"added"`
	Message string `json:"message"`
	Item    *Item  `json:"item,omitempty"`
}

// ItemListRequest filters item listing by stage names. Empty means all.
type ItemListRequest struct {
	Stages []string `json:"stages,omitempty"`
}

// ItemListResponse contains the matching items.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// ItemRetryRequest requeues failed or manual-review items. An empty id list
// retries everything eligible.
type ItemRetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// ItemRetryResponse reports how many items were requeued.
type ItemRetryResponse struct {
	Updated int64  `json:"updated"`
	Message string `json:"message,omitempty"`
}

// ItemWaiveRequest marks an item as waived.
type ItemWaiveRequest struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// ItemWaiveResponse reports the waive outcome.
type ItemWaiveResponse struct {
	Waived  bool   `json:"waived"`
	Message string `json:"message,omitempty"`
}

// Checkpoint summarizes a stored checkpoint for listing.
type Checkpoint struct {
	Sequence  int64     `json:"sequence"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointListRequest lists stored checkpoints.
type CheckpointListRequest struct{}

// CheckpointListResponse contains checkpoint summaries, oldest first.
type CheckpointListResponse struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// CheckpointRestoreRequest replaces workflow state with a checkpoint.
type CheckpointRestoreRequest struct {
	Sequence int64 `json:"sequence"`
}

// CheckpointRestoreResponse reports the restored state.
type CheckpointRestoreResponse struct {
	Restored bool            `json:"restored"`
	Message  string          `json:"message"`
	State    *workflow.State `json:"state,omitempty"`
}

// AuditEntry mirrors an audit trail record for IPC consumers.
type AuditEntry struct {
	ID         int64     `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	ItemID     int64     `json:"item_id"`
	Decision   string    `json:"decision"`
	ErrorClass string    `json:"error_class,omitempty"`
	FromStage  string    `json:"from_stage"`
	ToStage    string    `json:"to_stage"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditTrailRequest fetches audit entries for one item, or for the whole
// workflow when ItemID is zero.
type AuditTrailRequest struct {
	ItemID int64 `json:"item_id,omitempty"`
}

// AuditTrailResponse contains the matching audit entries, oldest first.
type AuditTrailResponse struct {
	Entries []AuditEntry `json:"entries"`
}
