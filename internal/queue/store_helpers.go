package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const itemColumns = "id, workflow_id, path, owning_phase, stage, depends_on, retry_count, last_error_class, error_message, progress_percent, progress_message, memory_units, waived, review_reason, created_at, updated_at, last_heartbeat"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               int64
		workflowID       string
		path             string
		owningPhase      string
		stageStr         string
		dependsRaw       sql.NullString
		retryCount       int
		lastErrorClass   sql.NullString
		errorMessage     sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		memoryUnits      int64
		waived           sql.NullInt64
		reviewReason     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workflowID,
		&path,
		&owningPhase,
		&stageStr,
		&dependsRaw,
		&retryCount,
		&lastErrorClass,
		&errorMessage,
		&progressPercent,
		&progressMessage,
		&memoryUnits,
		&waived,
		&reviewReason,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:              id,
		WorkflowID:      workflowID,
		Path:            path,
		OwningPhase:     owningPhase,
		Stage:           Stage(stageStr),
		RetryCount:      retryCount,
		LastErrorClass:  lastErrorClass.String,
		ErrorMessage:    errorMessage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		MemoryUnits:     memoryUnits,
		ReviewReason:    reviewReason.String,
	}
	if waived.Valid {
		item.Waived = waived.Int64 != 0
	}
	if dependsRaw.Valid && strings.TrimSpace(dependsRaw.String) != "" {
		if err := json.Unmarshal([]byte(dependsRaw.String), &item.DependsOn); err != nil {
			return nil, fmt.Errorf("decode dependencies for item %d: %w", id, err)
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid && lastHeartbeatRaw.String != "" {
		if hb, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &hb
		}
	}

	return item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
