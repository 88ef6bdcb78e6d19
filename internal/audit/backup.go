package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
)

// appendBackupLine writes one entry as a single JSON line to the side file.
// The file is append-only; partial lines from a crash are skipped by the
// reader.
func appendBackupLine(path string, e *schema.SyncLogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// #nosec G304 - path comes from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append backup line: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup file: %w", err)
	}
	return nil
}

// ReadBackup parses the JSONL side file. Unparseable lines are counted and
// skipped, never fatal.
func ReadBackup(path string) ([]*schema.SyncLogEntry, int, error) {
	// #nosec G304 - path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	var entries []*schema.SyncLogEntry
	skipped := 0
	decoder := json.NewDecoder(f)
	for {
		var e schema.SyncLogEntry
		if err := decoder.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			skipped++
			break
		}
		if e.Validate() != nil {
			skipped++
			continue
		}
		entries = append(entries, &e)
	}

	return entries, skipped, nil
}

// RecoverResult summarizes a backup replay.
type RecoverResult struct {
	Read     int
	Replayed int
	Existing int
	Skipped  int
}

// Recover replays the JSONL side file into the store: every entry whose
// content signature is not already present is re-inserted. On a clean
// replay the side file is truncated.
func (w *Writer) Recover(ctx context.Context, path string) (*RecoverResult, error) {
	entries, skipped, err := ReadBackup(path)
	if err != nil {
		return nil, err
	}

	result := &RecoverResult{Read: len(entries), Skipped: skipped}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if found, _ := w.verify(ctx, e); found {
			result.Existing++
			continue
		}
		if _, err := w.insert(ctx, e); err != nil {
			return result, fmt.Errorf("failed to replay entry %s: %w", e.Signature(), err)
		}
		result.Replayed++
	}

	if _, err := w.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		w.logger.Warnf("audit: wal checkpoint after recover failed: %v", err)
	}

	if err := os.Truncate(path, 0); err != nil {
		return result, fmt.Errorf("failed to truncate backup file: %w", err)
	}

	return result, nil
}
