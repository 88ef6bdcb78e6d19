package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// openTestWriter prepares a schema-initialized database and a Writer over a
// secondary connection, the way the daemon wires it.
func openTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	backupPath := filepath.Join(tmpDir, "sync_logs.backup.jsonl")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	conn, err := store.OpenSecondary(dbPath)
	if err != nil {
		t.Fatalf("store.OpenSecondary() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return NewWriter(conn, backupPath, testLogger()), backupPath
}

func TestAppend_PersistsAndVerifies(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()
	id := schema.NewIdentity("acme", "1001")

	rowID := w.Info(ctx, id, "Acme Traders", "Connection established", "")
	if rowID == 0 {
		t.Fatal("Info() returned 0, want confirmed row id")
	}

	entries, err := w.Entries(ctx, Filter{Identity: id})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "Connection established" {
		t.Errorf("Message = %q", entries[0].Message)
	}
	if entries[0].Level != schema.LevelInfo {
		t.Errorf("Level = %q, want %q", entries[0].Level, schema.LevelInfo)
	}
}

func TestAppend_InvalidEntryDropped(t *testing.T) {
	w, backupPath := openTestWriter(t)
	ctx := context.Background()

	rowID := w.Append(ctx, &schema.SyncLogEntry{
		// Missing external_id/version_id.
		Level:   schema.LevelInfo,
		Message: "orphan",
	})
	if rowID != 0 {
		t.Errorf("Append() = %d for invalid entry, want 0", rowID)
	}

	entries, err := w.Entries(ctx, Filter{})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Invalid entry was persisted")
	}
	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Error("Invalid entry landed in the backup file")
	}
}

func TestLifecycleWrappers(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()
	id := schema.NewIdentity("acme", "1001")

	w.SyncStarted(ctx, id, "Acme Traders")
	w.SyncProgress(ctx, id, "Acme Traders", 500)
	w.SyncCompleted(ctx, id, "Acme Traders", 1234, 90*time.Second)

	completed, err := w.Entries(ctx, Filter{Status: schema.SyncCompleted})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("Expected 1 completed entry, got %d", len(completed))
	}
	e := completed[0]
	if e.Level != schema.LevelSuccess {
		t.Errorf("Level = %q, want %q", e.Level, schema.LevelSuccess)
	}
	if e.RecordsSynced != 1234 {
		t.Errorf("RecordsSynced = %d, want 1234", e.RecordsSynced)
	}
	if e.DurationSeconds != 90 {
		t.Errorf("DurationSeconds = %v, want 90", e.DurationSeconds)
	}
}

func TestSyncFailed_RecordsErrorFields(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()
	id := schema.NewIdentity("acme", "1001")

	w.SyncFailed(ctx, id, "Acme Traders", "sync_failed", "source connection refused", 5*time.Second)

	entries, err := w.Entries(ctx, Filter{Level: schema.LevelError})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 error entry, got %d", len(entries))
	}
	if entries[0].ErrorCode != "sync_failed" {
		t.Errorf("ErrorCode = %q", entries[0].ErrorCode)
	}
	if entries[0].ErrorMessage != "source connection refused" {
		t.Errorf("ErrorMessage = %q", entries[0].ErrorMessage)
	}
}

func TestEntries_NewestFirstWithLimit(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()
	id := schema.NewIdentity("acme", "1001")

	for i, msg := range []string{"first", "second", "third"} {
		w.Append(ctx, &schema.SyncLogEntry{
			ExternalID: id.ExternalID, VersionID: id.VersionID,
			Level: schema.LevelInfo, Message: msg,
			CreatedAt: time.Date(2024, 4, 1, 12, 0, i, 0, time.UTC),
		})
	}

	entries, err := w.Entries(ctx, Filter{Identity: id, Limit: 2})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "third" || entries[1].Message != "second" {
		t.Errorf("Order = %q, %q; want newest first", entries[0].Message, entries[1].Message)
	}
}

func TestEntries_IdentityIsolation(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()

	w.Info(ctx, schema.NewIdentity("acme", "1001"), "Acme Traders", "old version", "")
	w.Info(ctx, schema.NewIdentity("acme", "1002"), "Acme Traders", "new version", "")

	entries, err := w.Entries(ctx, Filter{Identity: schema.NewIdentity("acme", "1002")})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry for version 1002, got %d", len(entries))
	}
	if entries[0].Message != "new version" {
		t.Errorf("Message = %q", entries[0].Message)
	}
}

func TestSweep_RemovesOldEntriesOnly(t *testing.T) {
	w, _ := openTestWriter(t)
	ctx := context.Background()
	id := schema.NewIdentity("acme", "1001")

	w.Append(ctx, &schema.SyncLogEntry{
		ExternalID: id.ExternalID, VersionID: id.VersionID,
		Level: schema.LevelInfo, Message: "ancient",
		CreatedAt: time.Now().UTC().Add(-120 * 24 * time.Hour),
	})
	w.Info(ctx, id, "Acme Traders", "recent", "")

	n, err := w.Sweep(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d entries, want 1", n)
	}

	entries, err := w.Entries(ctx, Filter{})
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "recent" {
		t.Errorf("Expected only the recent entry to survive")
	}
}
