// Package audit appends sync lifecycle events to the sync_logs table.
//
// The writer runs on its own database connection (store.OpenSecondary) so
// log durability is never serialized behind the long-running sync
// transaction on the primary handle.
//
// Every append runs a write-flush-verify-heal protocol: insert, checkpoint
// the WAL, select the row back by content signature, re-insert once on a
// miss, and finally fall back to an append-only JSONL file that the recover
// tool can replay later. A failed append never aborts the sync job.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/sirupsen/logrus"
)

// Writer appends audit entries durably.
type Writer struct {
	conn       *sql.DB
	backupPath string
	logger     *logrus.Logger

	// mu serializes appends; the secondary connection is a single handle
	// and interleaved checkpoint/verify steps would race.
	mu sync.Mutex
}

// NewWriter creates a writer over an independently-opened connection.
// backupPath names the JSONL side file; empty disables the durability net.
func NewWriter(conn *sql.DB, backupPath string, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{
		conn:       conn,
		backupPath: backupPath,
		logger:     logger,
	}
}

// Append persists an entry and returns its row id, or 0 when the write
// could not be confirmed. It never returns an error to the caller: sync
// control flow treats logging as best-effort. Unconfirmed entries land in
// the JSONL side file.
func (w *Writer) Append(ctx context.Context, e *schema.SyncLogEntry) int64 {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		w.logger.WithField("entry", e.Signature()).Warnf("audit: dropping invalid entry: %v", err)
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.appendVerified(ctx, e)
	if err == nil {
		return id
	}

	w.logger.WithFields(logrus.Fields{
		"identity": e.Identity().String(),
		"level":    string(e.Level),
	}).Warnf("audit: write not confirmed, falling back to backup file: %v", err)

	if w.backupPath != "" {
		if berr := appendBackupLine(w.backupPath, e); berr != nil {
			w.logger.Errorf("audit: backup append failed: %v", berr)
		}
	}
	return 0
}

// appendVerified runs insert, WAL flush, verify-by-signature, and one
// self-heal re-insert.
func (w *Writer) appendVerified(ctx context.Context, e *schema.SyncLogEntry) (int64, error) {
	id, err := w.insert(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}

	// Force the WAL out to the base store before verifying; a verified row
	// that only lives in an uncheckpointed WAL has been lost before.
	if _, err := w.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		w.logger.Warnf("audit: wal checkpoint failed: %v", err)
	}

	if found, foundID := w.verify(ctx, e); found {
		if foundID != 0 {
			return foundID, nil
		}
		return id, nil
	}

	// One self-heal attempt from the in-memory entry.
	id, err = w.insert(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("self-heal insert: %w", err)
	}
	if found, foundID := w.verify(ctx, e); found {
		if foundID != 0 {
			return foundID, nil
		}
		return id, nil
	}

	return 0, fmt.Errorf("entry %s not found after self-heal", e.Signature())
}

func (w *Writer) insert(ctx context.Context, e *schema.SyncLogEntry) (int64, error) {
	query := `
	INSERT INTO sync_logs (
		external_id, version_id, name, level, message, details, sync_status,
		records_synced, error_code, error_message, duration_seconds, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := w.conn.ExecContext(ctx, query,
		e.ExternalID, e.VersionID, e.Name, string(e.Level), e.Message,
		nullIfEmpty(e.Details), nullIfEmpty(string(e.SyncStatus)),
		e.RecordsSynced, nullIfEmpty(e.ErrorCode), nullIfEmpty(e.ErrorMessage),
		nullIfZero(e.DurationSeconds), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// verify selects the entry back by content signature, not by generated id.
func (w *Writer) verify(ctx context.Context, e *schema.SyncLogEntry) (bool, int64) {
	var id int64
	err := w.conn.QueryRowContext(ctx,
		`SELECT id FROM sync_logs
		 WHERE external_id = ? AND version_id = ? AND level = ? AND message = ? AND created_at = ?
		 ORDER BY id LIMIT 1`,
		e.ExternalID, e.VersionID, string(e.Level), e.Message,
		e.CreatedAt.Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return false, 0
	}
	return true, id
}

// Info appends an INFO entry.
func (w *Writer) Info(ctx context.Context, id schema.Identity, name, message, details string) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelInfo, Message: message, Details: details,
	})
}

// Warning appends a WARNING entry.
func (w *Writer) Warning(ctx context.Context, id schema.Identity, name, message, details string) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelWarning, Message: message, Details: details,
	})
}

// Error appends an ERROR entry.
func (w *Writer) Error(ctx context.Context, id schema.Identity, name, message, details string) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelError, Message: message, Details: details,
	})
}

// Success appends a SUCCESS entry.
func (w *Writer) Success(ctx context.Context, id schema.Identity, name, message, details string) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelSuccess, Message: message, Details: details,
	})
}

// SyncStarted records the start of a sync job.
func (w *Writer) SyncStarted(ctx context.Context, id schema.Identity, name string) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelInfo, SyncStatus: schema.SyncStarted,
		Message: "Sync started",
	})
}

// SyncProgress records a periodic progress event.
func (w *Writer) SyncProgress(ctx context.Context, id schema.Identity, name string, recordsSynced int64) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelInfo, SyncStatus: schema.SyncInProgress,
		Message:       fmt.Sprintf("Synced %d records so far", recordsSynced),
		RecordsSynced: recordsSynced,
	})
}

// SyncCompleted records a successful terminal state.
func (w *Writer) SyncCompleted(ctx context.Context, id schema.Identity, name string, recordsSynced int64, duration time.Duration) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelSuccess, SyncStatus: schema.SyncCompleted,
		Message:         fmt.Sprintf("Sync completed with %d records", recordsSynced),
		RecordsSynced:   recordsSynced,
		DurationSeconds: duration.Seconds(),
	})
}

// SyncFailed records a failed terminal state.
func (w *Writer) SyncFailed(ctx context.Context, id schema.Identity, name, errorCode, errorMessage string, duration time.Duration) int64 {
	return w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID, Name: name,
		Level: schema.LevelError, SyncStatus: schema.SyncFailed,
		Message:         "Sync failed",
		ErrorCode:       errorCode,
		ErrorMessage:    errorMessage,
		DurationSeconds: duration.Seconds(),
	})
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfZero(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
