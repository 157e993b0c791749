package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyActive is returned by Start when a workflow is running.
	ErrAlreadyActive = errors.New("a workflow is already active")
	// ErrInvalidConfiguration is returned when a start request is missing
	// required configuration or names an unknown workflow type.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNoActiveWorkflow is returned by operations that need a running
	// workflow when none exists.
	ErrNoActiveWorkflow = errors.New("no active workflow")
	// ErrCorruptState marks a persisted state document that fails its own
	// invariants and must not be resumed from.
	ErrCorruptState = errors.New("corrupt workflow state")
	// ErrGatePending is returned by AdvancePhase while an approval gate for
	// the current phase is unresolved.
	ErrGatePending = errors.New("approval gate pending")
)

// PhaseIncompleteError reports an attempted phase advance while work items in
// the current phase are still outstanding.
type PhaseIncompleteError struct {
	Phase       string
	Outstanding []string
}

func (e *PhaseIncompleteError) Error() string {
	return fmt.Sprintf("phase %s incomplete: %d outstanding items (%s)",
		e.Phase, len(e.Outstanding), strings.Join(e.Outstanding, ", "))
}
