package workflow

import (
	"fmt"
	"time"
)

// StateSchemaVersion identifies the persisted state document layout.
const StateSchemaVersion = 1

// Status is the lifecycle of a workflow as a whole.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// State is the single source of truth for a running workflow. All mutation
// goes through the Controller; nothing else writes these fields.
type State struct {
	SchemaVersion    int               `json:"schema_version"`
	WorkflowID       string            `json:"workflow_id"`
	WorkflowType     string            `json:"workflow_type"`
	Status           Status            `json:"status"`
	CurrentPhase     string            `json:"current_phase"`
	PhaseIndex       int               `json:"phase_index"`
	PhasesCompleted  []string          `json:"phases_completed"`
	Configuration    map[string]string `json:"configuration"`
	AwaitingApproval string            `json:"awaiting_approval,omitempty"`
	GateOpenedAt     time.Time         `json:"gate_opened_at,omitzero"`
	ApprovedGates    []string          `json:"approved_gates,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	PhaseStartedAt   time.Time         `json:"phase_started_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Validate checks the structural invariants of a state document against the
// phase sequence for its workflow type. A state whose phase_index disagrees
// with the position of current_phase is corrupt and must not be trusted.
func (s *State) Validate(sequences Sequences) error {
	if s.SchemaVersion != StateSchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrCorruptState, s.SchemaVersion)
	}
	if s.WorkflowID == "" {
		return fmt.Errorf("%w: missing workflow id", ErrCorruptState)
	}
	phases, ok := sequences.Phases(s.WorkflowType)
	if !ok {
		return fmt.Errorf("%w: unknown workflow type %q", ErrCorruptState, s.WorkflowType)
	}
	switch s.Status {
	case StatusCompleted, StatusAborted:
		return nil
	case StatusActive:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrCorruptState, s.Status)
	}
	index, ok := phaseIndex(phases, s.CurrentPhase)
	if !ok {
		return fmt.Errorf("%w: phase %q is not in the %s sequence", ErrCorruptState, s.CurrentPhase, s.WorkflowType)
	}
	if index != s.PhaseIndex {
		return fmt.Errorf("%w: phase_index %d does not match position %d of phase %q",
			ErrCorruptState, s.PhaseIndex, index, s.CurrentPhase)
	}
	if len(s.PhasesCompleted) != index {
		return fmt.Errorf("%w: %d completed phases recorded before phase %d",
			ErrCorruptState, len(s.PhasesCompleted), index)
	}
	return nil
}

// GateApproved reports whether the named gate has already been approved.
func (s *State) GateApproved(name string) bool {
	for _, approved := range s.ApprovedGates {
		if approved == name {
			return true
		}
	}
	return false
}

func (s *State) clone() *State {
	copied := *s
	copied.PhasesCompleted = append([]string(nil), s.PhasesCompleted...)
	copied.ApprovedGates = append([]string(nil), s.ApprovedGates...)
	if s.Configuration != nil {
		copied.Configuration = make(map[string]string, len(s.Configuration))
		for key, value := range s.Configuration {
			copied.Configuration[key] = value
		}
	}
	return &copied
}

func phaseIndex(phases []string, phase string) (int, bool) {
	for i, candidate := range phases {
		if candidate == phase {
			return i, true
		}
	}
	return 0, false
}
