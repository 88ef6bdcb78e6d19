package schema

import (
	"fmt"
	"time"
)

// LogLevel classifies an audit log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
	LevelSuccess LogLevel = "SUCCESS"
)

// SyncStatus records which lifecycle phase an audit entry belongs to.
type SyncStatus string

const (
	SyncStarted    SyncStatus = "started"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncLogEntry is one append-only audit record about a sync lifecycle event.
// Entries are never mutated; the only delete path is the retention sweep.
type SyncLogEntry struct {
	ID         int64      `json:"id,omitempty"`
	ExternalID string     `json:"external_id"`
	VersionID  string     `json:"version_id"`
	Name       string     `json:"name"`
	Level      LogLevel   `json:"level"`
	Message    string     `json:"message"`
	Details    string     `json:"details,omitempty"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`

	RecordsSynced   int64   `json:"records_synced"`
	ErrorCode       string  `json:"error_code,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Identity returns the owning company identity.
func (e *SyncLogEntry) Identity() Identity {
	return Identity{ExternalID: e.ExternalID, VersionID: e.VersionID}
}

// Signature is the content identity used to verify a committed write.
// Generated row ids are not a reliable substitute under retry, so the
// writer selects the row back by these fields instead.
func (e *SyncLogEntry) Signature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		e.ExternalID, e.VersionID, e.Level, e.Message, e.CreatedAt.UnixNano())
}

// Validate checks the fields the audit writer depends on.
func (e *SyncLogEntry) Validate() error {
	if err := e.Identity().Validate(); err != nil {
		return err
	}
	switch e.Level {
	case LevelInfo, LevelWarning, LevelError, LevelSuccess:
	default:
		return fmt.Errorf("invalid level %q", e.Level)
	}
	if e.Message == "" {
		return fmt.Errorf("message is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}
