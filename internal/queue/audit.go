package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry records one recovery decision or stage transition. The audit
// trail is append-only: entries are never updated once written.
type AuditEntry struct {
	ID         int64
	WorkflowID string
	ItemID     int64
	Decision   string
	ErrorClass string
	FromStage  Stage
	ToStage    Stage
	Detail     string
	CreatedAt  time.Time
}

// AppendAudit writes an entry to the audit trail.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO audit_log (workflow_id, item_id, decision, error_class, from_stage, to_stage, detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.WorkflowID,
		entry.ItemID,
		entry.Decision,
		nullableString(entry.ErrorClass),
		nullableString(string(entry.FromStage)),
		nullableString(string(entry.ToStage)),
		nullableString(entry.Detail),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AuditForItem returns the audit trail for one item in insertion order.
func (s *Store) AuditForItem(ctx context.Context, itemID int64) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, workflow_id, item_id, decision, error_class, from_stage, to_stage, detail, created_at
         FROM audit_log WHERE item_id = ? ORDER BY id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// AuditForWorkflow returns the full audit trail for a workflow in insertion order.
func (s *Store) AuditForWorkflow(ctx context.Context, workflowID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, workflow_id, item_id, decision, error_class, from_stage, to_stage, detail, created_at
         FROM audit_log WHERE workflow_id = ? ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow audit trail: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// PruneAudit removes audit entries older than the cutoff. Intended for
// retention of terminal workflows only; active workflows keep their trail.
func (s *Store) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune audit trail: %w", err)
	}
	return res.RowsAffected()
}

func collectAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	var entries []AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			itemID     sql.NullInt64
			errorClass sql.NullString
			fromStage  sql.NullString
			toStage    sql.NullString
			detail     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&itemID,
			&entry.Decision,
			&errorClass,
			&fromStage,
			&toStage,
			&detail,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		entry.ItemID = itemID.Int64
		entry.ErrorClass = errorClass.String
		entry.FromStage = Stage(fromStage.String)
		entry.ToStage = Stage(toStage.String)
		entry.Detail = detail.String
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
