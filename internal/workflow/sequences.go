package workflow

import (
	"conductor/internal/config"
)

// Sequences maps workflow types to their ordered phase lists.
type Sequences map[string][]string

// NewSequences merges configured overrides onto the built-in defaults.
func NewSequences(cfg *config.Config) Sequences {
	merged := Sequences{}
	for workflowType, phases := range config.DefaultSequences() {
		merged[workflowType] = append([]string(nil), phases...)
	}
	for workflowType, phases := range cfg.Workflow.Sequences {
		if len(phases) > 0 {
			merged[workflowType] = append([]string(nil), phases...)
		}
	}
	return merged
}

// Phases returns the ordered phase list for a workflow type.
func (s Sequences) Phases(workflowType string) ([]string, bool) {
	phases, ok := s[workflowType]
	return phases, ok
}

// PhaseAt returns the phase at the given index, or false past the end.
func (s Sequences) PhaseAt(workflowType string, index int) (string, bool) {
	phases, ok := s[workflowType]
	if !ok || index < 0 || index >= len(phases) {
		return "", false
	}
	return phases[index], true
}
