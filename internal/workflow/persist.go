package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"conductor/internal/checkpoint"
)

// saveState publishes the current state document atomically. The previous
// document survives any partial write.
func saveState(path string, state *State) error {
	doc, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}
	return checkpoint.WriteDocumentAtomic(path, doc, func(written []byte) error {
		var parsed State
		if err := json.Unmarshal(written, &parsed); err != nil {
			return err
		}
		if parsed.WorkflowID != state.WorkflowID || parsed.SchemaVersion != state.SchemaVersion {
			return errors.New("round-trip mismatch")
		}
		return nil
	})
}

// loadState reads and validates the persisted state document. A missing file
// returns (nil, nil); a document that fails validation returns ErrCorruptState.
func loadState(path string, sequences Sequences) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := state.Validate(sequences); err != nil {
		return nil, err
	}
	return &state, nil
}
