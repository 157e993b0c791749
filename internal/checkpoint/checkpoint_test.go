package checkpoint_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"conductor/internal/checkpoint"
	"conductor/internal/config"
)

func testManager(t *testing.T) (*checkpoint.Manager, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Checkpoints.Keep = 3
	cfg.Checkpoints.MinDiskMiB = 0
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	manager, err := checkpoint.NewManager(&cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, &cfg
}

type fakeState struct {
	WorkflowID string `json:"workflow_id"`
	Phase      string `json:"current_phase"`
}

func TestWriteAndRestoreRoundTrip(t *testing.T) {
	manager, _ := testManager(t)
	state := fakeState{WorkflowID: "wf-1", Phase: "discovery"}

	written, err := manager.Write(context.Background(), checkpoint.ReasonPhaseComplete, state)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if written.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", written.Sequence)
	}
	if written.FormatVersion != checkpoint.FormatVersion {
		t.Fatalf("format version = %d", written.FormatVersion)
	}

	restored, err := manager.Restore(written.Sequence)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	var got fakeState
	if err := json.Unmarshal(restored.State, &got); err != nil {
		t.Fatalf("unmarshal state failed: %v", err)
	}
	if got != state {
		t.Fatalf("restored state = %+v, want %+v", got, state)
	}
	if restored.Reason != checkpoint.ReasonPhaseComplete {
		t.Fatalf("reason = %s", restored.Reason)
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	manager, _ := testManager(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := manager.Write(ctx, checkpoint.ReasonTimer, fakeState{WorkflowID: "wf-1"}); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	remaining, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("kept %d checkpoints, want 3", len(remaining))
	}
	if remaining[0].Sequence != 3 || remaining[2].Sequence != 5 {
		t.Fatalf("unexpected retained sequences: %d..%d", remaining[0].Sequence, remaining[2].Sequence)
	}

	if _, err := manager.Restore(1); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("Restore(1) = %v, want ErrNotFound", err)
	}
}

func TestSequenceResumesAcrossRestart(t *testing.T) {
	manager, cfg := testManager(t)
	ctx := context.Background()
	if _, err := manager.Write(ctx, checkpoint.ReasonTimer, fakeState{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := manager.Write(ctx, checkpoint.ReasonTimer, fakeState{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	reopened, err := checkpoint.NewManager(cfg, nil, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	written, err := reopened.Write(ctx, checkpoint.ReasonTimer, fakeState{})
	if err != nil {
		t.Fatalf("Write after reopen failed: %v", err)
	}
	if written.Sequence != 3 {
		t.Fatalf("sequence after reopen = %d, want 3", written.Sequence)
	}
}

func TestLatestSkipsCorruptDocument(t *testing.T) {
	manager, cfg := testManager(t)
	ctx := context.Background()
	good, err := manager.Write(ctx, checkpoint.ReasonTimer, fakeState{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A torn write from a crashed process must not hide earlier snapshots.
	corrupt := filepath.Join(cfg.CheckpointDir(), "checkpoint-000002.json")
	if err := os.WriteFile(corrupt, []byte(`{"format_version":1,"seq`), 0o644); err != nil {
		t.Fatalf("write corrupt file failed: %v", err)
	}

	latest, err := manager.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Sequence != good.Sequence {
		t.Fatalf("latest sequence = %d, want %d", latest.Sequence, good.Sequence)
	}
}

func TestFailedVerifyLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state.json")
	if err := os.WriteFile(target, []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatalf("seed target failed: %v", err)
	}

	err := checkpoint.WriteDocumentAtomic(target, []byte(`{"ok":false}`), func([]byte) error {
		return errors.New("structural mismatch")
	})
	if err == nil {
		t.Fatal("expected verify failure")
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target failed: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("target was clobbered: %s", raw)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
