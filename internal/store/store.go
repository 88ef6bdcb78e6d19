// Package store owns the local SQLite database: schema creation, connection
// lifecycle, and persistence of companies and vouchers.
//
// The database runs embedded with WAL mode so the audit writer's secondary
// connection can commit while a long sync transaction holds the primary.
//
// Writes through the primary handle are serialized behind a single coarse
// lock. That is acceptable here: the bottleneck is the external source, not
// local storage. The audit writer deliberately bypasses this lock by using
// its own connection (see OpenSecondary).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the primary SQLite connection.
type DB struct {
	conn *sql.DB
	path string

	// writeGate serializes all writes through the primary handle.
	// Capacity 1; acquireWrite takes the token, release returns it.
	writeGate chan struct{}
	lockWait  time.Duration
}

// DefaultLockWait bounds how long a writer waits for the write gate before
// one retry and then a contention error.
const DefaultLockWait = 5 * time.Second

// Open creates (or opens) the database at path and configures it for
// concurrent use. The caller must Close() when done.
//
// Schema creation is separate; call InitSchema after Open.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:      conn,
		path:      path,
		writeGate: make(chan struct{}, 1),
		lockWait:  DefaultLockWait,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// OpenSecondary opens an independent connection to the same database file,
// configured for high write-concurrency durability. The audit writer uses
// this handle so log commits are never serialized behind the sync
// transaction on the primary.
func OpenSecondary(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secondary connection: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping secondary connection: %w", err)
	}

	// Single connection: the writer appends serially and a pool would only
	// spread the WAL checkpoint work across handles.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return conn, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates tables and indexes if absent. Idempotent: guarded with
// IF NOT EXISTS only, so concurrent callers from multiple processes are safe.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		external_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		source_handle TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'new',
		total_records INTEGER NOT NULL DEFAULT 0,
		last_sync_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (external_id, version_id)
	);

	CREATE TABLE IF NOT EXISTS vouchers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		master_id TEXT NOT NULL,
		ledger_name TEXT NOT NULL,
		date TEXT,
		type TEXT,
		number TEXT,
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		party_name TEXT,
		narration TEXT,
		gstin TEXT,
		registration_type TEXT,
		place_of_supply TEXT,
		hsn_code TEXT,
		tax_rate TEXT,
		tax_type TEXT,
		cost_centre TEXT,
		cost_category TEXT,
		bill_reference TEXT,
		currency TEXT,
		reference_number TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (external_id, version_id, master_id, ledger_name)
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		sync_status TEXT,
		records_synced INTEGER NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		duration_seconds REAL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_companies_status ON companies(status);
	CREATE INDEX IF NOT EXISTS idx_companies_identity ON companies(external_id, version_id);

	CREATE INDEX IF NOT EXISTS idx_vouchers_identity ON vouchers(external_id, version_id);
	CREATE INDEX IF NOT EXISTS idx_vouchers_identity_date ON vouchers(external_id, version_id, date);

	CREATE INDEX IF NOT EXISTS idx_sync_logs_identity ON sync_logs(external_id, version_id);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_level ON sync_logs(level);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs(sync_status);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_created ON sync_logs(created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// acquireWrite takes the coarse write lock with a bounded wait and one
// retry. Returns a release func, or ErrContention if both waits expire.
func (db *DB) acquireWrite(ctx context.Context) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		timer := time.NewTimer(db.lockWait)
		select {
		case db.writeGate <- struct{}{}:
			timer.Stop()
			return func() { <-db.writeGate }, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, ErrContention
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
