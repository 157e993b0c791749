package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/logging"
)

// FormatVersion identifies the on-disk checkpoint document layout.
const FormatVersion = 1

// Reason records why a checkpoint was taken.
type Reason string

const (
	ReasonPhaseComplete    Reason = "phase-complete"
	ReasonProgressInterval Reason = "progress-interval"
	ReasonTimer            Reason = "timer"
	ReasonPreRiskyOp       Reason = "pre-risky-op"
)

// ErrNotFound is returned when a requested checkpoint sequence does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a durable snapshot of workflow state.
type Checkpoint struct {
	FormatVersion int             `json:"format_version"`
	Sequence      int64           `json:"sequence"`
	Reason        Reason          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
	State         json.RawMessage `json:"state"`
}

// Manager writes, lists, prunes, and restores checkpoint documents under a
// single directory. Writes are atomic and retention prunes only after a new
// checkpoint has landed, so the newest recoverable snapshot is never lost.
type Manager struct {
	dir      string
	keep     int
	minBytes uint64
	logger   *slog.Logger
	notifier events.Service

	mu   sync.Mutex
	next int64
}

// NewManager prepares the checkpoint directory and resumes the sequence
// counter from whatever documents already exist.
func NewManager(cfg *config.Config, logger *slog.Logger, notifier events.Service) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	dir := cfg.CheckpointDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	manager := &Manager{
		dir:      dir,
		keep:     cfg.Checkpoints.Keep,
		minBytes: uint64(cfg.Checkpoints.MinDiskMiB) * 1024 * 1024,
		logger:   logging.NewComponentLogger(logger, "checkpoint"),
		notifier: notifier,
	}
	sequences, err := manager.sequencesOnDisk()
	if err != nil {
		return nil, err
	}
	if len(sequences) > 0 {
		manager.next = sequences[len(sequences)-1] + 1
	} else {
		manager.next = 1
	}
	return manager, nil
}

// Write snapshots state under a fresh sequence number. The document is fully
// written and verified before it becomes visible; a failure at any point
// leaves earlier checkpoints untouched.
func (m *Manager) Write(ctx context.Context, reason Reason, state any) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.preflightDisk(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow state: %w", err)
	}
	cp := &Checkpoint{
		FormatVersion: FormatVersion,
		Sequence:      m.next,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
		State:         raw,
	}
	doc, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := m.pathFor(cp.Sequence)
	err = WriteDocumentAtomic(path, doc, func(written []byte) error {
		var parsed Checkpoint
		if err := json.Unmarshal(written, &parsed); err != nil {
			return err
		}
		if parsed.FormatVersion != FormatVersion || parsed.Sequence != cp.Sequence {
			return fmt.Errorf("round-trip mismatch for sequence %d", cp.Sequence)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.next++

	if err := m.pruneLocked(); err != nil {
		m.logger.Warn("checkpoint prune failed", logging.Error(err))
	}

	logger := logging.WithContext(ctx, m.logger)
	logger.Info("checkpoint written",
		logging.Int64("sequence", cp.Sequence),
		logging.String("reason", string(reason)),
		logging.String(logging.FieldEventType, "checkpoint_created"),
	)
	if m.notifier != nil {
		err := m.notifier.Publish(ctx, events.EventCheckpointCreated, events.Payload{
			"sequence": strconv.FormatInt(cp.Sequence, 10),
			"reason":   string(reason),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("checkpoint notification failed", logging.Error(err))
		}
	}
	return cp, nil
}

// List returns all checkpoints on disk, oldest first. Documents that fail to
// parse are skipped with a warning rather than blocking recovery.
func (m *Manager) List() ([]*Checkpoint, error) {
	sequences, err := m.sequencesOnDisk()
	if err != nil {
		return nil, err
	}
	checkpoints := make([]*Checkpoint, 0, len(sequences))
	for _, seq := range sequences {
		cp, err := m.load(seq)
		if err != nil {
			m.logger.Warn("skipping unreadable checkpoint",
				logging.Int64("sequence", seq),
				logging.Error(err),
			)
			continue
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// Latest returns the most recent checkpoint, or ErrNotFound when none exist.
func (m *Manager) Latest() (*Checkpoint, error) {
	sequences, err := m.sequencesOnDisk()
	if err != nil {
		return nil, err
	}
	for i := len(sequences) - 1; i >= 0; i-- {
		cp, err := m.load(sequences[i])
		if err == nil {
			return cp, nil
		}
		m.logger.Warn("skipping unreadable checkpoint",
			logging.Int64("sequence", sequences[i]),
			logging.Error(err),
		)
	}
	return nil, ErrNotFound
}

// Restore loads the checkpoint with the given sequence. It never modifies or
// removes other checkpoints.
func (m *Manager) Restore(sequence int64) (*Checkpoint, error) {
	cp, err := m.load(sequence)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: sequence %d", ErrNotFound, sequence)
		}
		return nil, err
	}
	return cp, nil
}

func (m *Manager) load(sequence int64) (*Checkpoint, error) {
	raw, err := os.ReadFile(m.pathFor(sequence))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %d: %w", sequence, err)
	}
	if cp.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("checkpoint %d has unsupported format version %d", sequence, cp.FormatVersion)
	}
	return &cp, nil
}

func (m *Manager) pruneLocked() error {
	if m.keep <= 0 {
		return nil
	}
	sequences, err := m.sequencesOnDisk()
	if err != nil {
		return err
	}
	if len(sequences) <= m.keep {
		return nil
	}
	for _, seq := range sequences[:len(sequences)-m.keep] {
		if err := os.Remove(m.pathFor(seq)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("prune checkpoint %d: %w", seq, err)
		}
	}
	return nil
}

func (m *Manager) sequencesOnDisk() ([]int64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	sequences := make([]int64, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json"), 10, 64)
		if err != nil {
			continue
		}
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	return sequences, nil
}

func (m *Manager) pathFor(sequence int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint-%06d.json", sequence))
}
