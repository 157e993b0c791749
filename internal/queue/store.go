package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"conductor/internal/config"
)

// Store manages work item persistence backed by SQLite.
type Store struct {
	db      *sql.DB
	path    string
	allowed []string
}

// Open initializes or connects to the work item database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "items.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, allowed: cfg.Paths.AllowedTargets}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewItemSpec describes a work item to enqueue.
type NewItemSpec struct {
	Path        string
	OwningPhase string
	DependsOn   []int64
	MemoryUnits int64
}

// Add validates the target path and inserts a queued work item.
func (s *Store) Add(ctx context.Context, workflowID string, spec NewItemSpec) (*Item, error) {
	if err := ValidatePath(spec.Path, s.allowed); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	memoryUnits := spec.MemoryUnits
	if memoryUnits < 1 {
		memoryUnits = 1
	}

	dependsJSON, err := marshalDeps(spec.DependsOn)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO work_items (
            workflow_id, path, owning_phase, stage, depends_on,
            memory_units, created_at, updated_at, progress_percent
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workflowID,
		CleanPath(spec.Path),
		spec.OwningPhase,
		StageQueued,
		dependsJSON,
		memoryUnits,
		timestamp,
		timestamp,
		0.0,
	)
	if err != nil {
		return nil, fmt.Errorf("insert work item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a work item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing work item. The stage transition is
// validated against the no-regression rule before anything is written.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}

	current, err := s.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("work item %d not found", item.ID)
	}
	if !current.Stage.CanTransition(item.Stage) {
		return fmt.Errorf("invalid stage transition for item %d: %s -> %s", item.ID, current.Stage, item.Stage)
	}

	item.UpdatedAt = time.Now().UTC()
	dependsJSON, err := marshalDeps(item.DependsOn)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET path = ?, owning_phase = ?, stage = ?, depends_on = ?,
             retry_count = ?, last_error_class = ?, error_message = ?,
             progress_percent = ?, progress_message = ?, memory_units = ?,
             waived = ?, review_reason = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		item.Path,
		item.OwningPhase,
		item.Stage,
		dependsJSON,
		item.RetryCount,
		nullableString(item.LastErrorClass),
		nullableString(item.ErrorMessage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		item.MemoryUnits,
		boolToInt(item.Waived),
		nullableString(item.ReviewReason),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(item.LastHeartbeat),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// List returns work items for a workflow filtered by stage set (or all items
// when no stage is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, workflowID string, stages ...Stage) ([]*Item, error) {
	baseQuery := `SELECT ` + itemColumns + ` FROM work_items WHERE workflow_id = ?`
	orderClause := ` ORDER BY created_at, id`
	args := []any{workflowID}

	query := baseQuery + orderClause
	if len(stages) > 0 {
		placeholders := makePlaceholders(len(stages))
		for _, stage := range stages {
			args = append(args, stage)
		}
		query = baseQuery + ` AND stage IN (` + placeholders + `)` + orderClause
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ItemsByPhase returns all items owned by a phase ordered by creation time.
func (s *Store) ItemsByPhase(ctx context.Context, workflowID, phase string) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE workflow_id = ? AND owning_phase = ? ORDER BY created_at, id`,
		workflowID,
		phase,
	)
	if err != nil {
		return nil, fmt.Errorf("query by phase: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// OutstandingByPhase returns items that still block phase advancement.
func (s *Store) OutstandingByPhase(ctx context.Context, workflowID, phase string) ([]*Item, error) {
	items, err := s.ItemsByPhase(ctx, workflowID, phase)
	if err != nil {
		return nil, err
	}
	outstanding := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.IsOutstanding() {
			outstanding = append(outstanding, item)
		}
	}
	return outstanding, nil
}

// UpdateHeartbeat stamps the item's heartbeat with the current time.
func (s *Store) UpdateHeartbeat(ctx context.Context, itemID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleInFlight resets in-flight items whose heartbeat predates the
// cutoff back to queued so they can be dispatched again.
func (s *Store) ReclaimStaleInFlight(ctx context.Context, workflowID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET stage = ?, progress_percent = 0,
             progress_message = 'Reclaimed after stale heartbeat',
             last_heartbeat = NULL, updated_at = ?
         WHERE workflow_id = ?
           AND stage IN (?, ?, ?, ?)
           AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StageQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		workflowID,
		StageValidating,
		StageCreating,
		StageWriting,
		StageVerifying,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// RequeueForRetry returns a failed or manual-review item to the queued stage
// on operator request, resetting its retry budget and waiver. This is the
// only path out of manual review; the regular transition rules treat that
// stage as terminal. The intervention is recorded in the audit trail.
func (s *Store) RequeueForRetry(ctx context.Context, id int64) (bool, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil || (item.Stage != StageFailed && item.Stage != StageManualReview) {
		return false, nil
	}
	fromStage := item.Stage
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET stage = ?, retry_count = 0, waived = 0, review_reason = NULL,
             progress_percent = 0, progress_message = ?, updated_at = ?, last_heartbeat = NULL
         WHERE id = ?`,
		StageQueued,
		"Requeued by operator",
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("requeue item: %w", err)
	}
	if err := s.AppendAudit(ctx, AuditEntry{
		WorkflowID: item.WorkflowID,
		ItemID:     item.ID,
		Decision:   "operator-retry",
		ErrorClass: item.LastErrorClass,
		FromStage:  fromStage,
		ToStage:    StageQueued,
		Detail:     "operator requested retry",
	}); err != nil {
		return true, err
	}
	return true, nil
}

// LatestUpdate returns the most recent item update time within a phase, or
// the zero time when the phase has no items. An empty phase spans the whole
// workflow.
func (s *Store) LatestUpdate(ctx context.Context, workflowID, phase string) (time.Time, error) {
	query := `SELECT MAX(updated_at) FROM work_items WHERE workflow_id = ?`
	args := []any{workflowID}
	if phase != "" {
		query += ` AND owning_phase = ?`
		args = append(args, phase)
	}
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest update: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	return parseTimeString(raw.String)
}

// WorkflowStats aggregates item counts for a workflow.
func (s *Store) WorkflowStats(ctx context.Context, workflowID string) (Stats, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, COUNT(1) FROM work_items WHERE workflow_id = ? GROUP BY stage`,
		workflowID,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("workflow stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var stageStr string
		var count int
		if err := rows.Scan(&stageStr, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch Stage(stageStr) {
		case StageQueued:
			stats.Queued += count
		case StageCompleted:
			stats.Completed += count
		case StageFailed:
			stats.Failed += count
		case StageManualReview:
			stats.ManualReview += count
		default:
			if Stage(stageStr).IsInFlight() {
				stats.InFlight += count
			}
		}
	}
	return stats, rows.Err()
}

// Clear removes all work items for a workflow and returns the removed count.
func (s *Store) Clear(ctx context.Context, workflowID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("clear work items: %w", err)
	}
	return res.RowsAffected()
}

func marshalDeps(deps []int64) (any, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(deps)
	if err != nil {
		return nil, fmt.Errorf("marshal dependencies: %w", err)
	}
	return string(encoded), nil
}
