package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
)

// Filter configures Entries. Zero values mean "any".
type Filter struct {
	Identity schema.Identity
	Level    schema.LogLevel
	Status   schema.SyncStatus
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// Entries returns audit log rows, newest first, for the polling UI
// collaborator.
func (w *Writer) Entries(ctx context.Context, filter Filter) ([]*schema.SyncLogEntry, error) {
	query := `
	SELECT id, external_id, version_id, name, level, message, details, sync_status,
	       records_synced, error_code, error_message, duration_seconds, created_at
	FROM sync_logs`
	var conditions []string
	var args []interface{}

	if filter.Identity.ExternalID != "" {
		conditions = append(conditions, "external_id = ?")
		args = append(args, filter.Identity.ExternalID)
	}
	if filter.Identity.VersionID != "" {
		conditions = append(conditions, "version_id = ?")
		args = append(args, filter.Identity.VersionID)
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Status != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.Status))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := w.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*schema.SyncLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return entries, nil
}

// Sweep deletes entries older than the horizon. Returns the number removed.
func (w *Writer) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res, err := w.conn.ExecContext(ctx,
		`DELETE FROM sync_logs WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sync logs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sync logs: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (*schema.SyncLogEntry, error) {
	var e schema.SyncLogEntry
	var level, createdAt string
	var details, status, errorCode, errorMessage sql.NullString
	var duration sql.NullFloat64

	err := rows.Scan(
		&e.ID, &e.ExternalID, &e.VersionID, &e.Name, &level, &e.Message,
		&details, &status, &e.RecordsSynced, &errorCode, &errorMessage,
		&duration, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Level = schema.LogLevel(level)
	e.Details = details.String
	e.SyncStatus = schema.SyncStatus(status.String)
	e.ErrorCode = errorCode.String
	e.ErrorMessage = errorMessage.String
	e.DurationSeconds = duration.Float64
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}

	return &e, nil
}
