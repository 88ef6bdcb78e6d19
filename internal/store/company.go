package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
)

// companyColumns is the projection shared by all company queries.
const companyColumns = `id, name, external_id, version_id, source_handle,
	status, total_records, last_sync_at, created_at`

// UpsertCompany inserts a company row, or updates name/source_handle/status
// when a row with the identical (external_id, version_id) already exists.
func (db *DB) UpsertCompany(ctx context.Context, c *schema.Company) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid company: %w", err)
	}

	release, err := db.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	query := `
	INSERT INTO companies (name, external_id, version_id, source_handle, status, total_records, created_at)
	VALUES (?, ?, ?, ?, ?, 0, ?)
	ON CONFLICT(external_id, version_id) DO UPDATE SET
		name = excluded.name,
		source_handle = excluded.source_handle,
		status = excluded.status
	`

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = db.conn.ExecContext(ctx, query,
		c.Name, c.ExternalID, c.VersionID, c.SourceHandle, string(c.Status),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert company %s: %w", c.Identity(), err)
	}

	return nil
}

// GetCompany returns the company with the exact identity, or nil when no
// such row exists. The returned row's identity fields are re-verified
// against the requested key before it is handed back.
func (db *DB) GetCompany(ctx context.Context, id schema.Identity) (*schema.Company, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT ` + companyColumns + ` FROM companies WHERE external_id = ? AND version_id = ?`
	row := db.conn.QueryRowContext(ctx, query, id.ExternalID, id.VersionID)

	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %s: %w", id, err)
	}

	if c.ExternalID != id.ExternalID || c.VersionID != id.VersionID {
		return nil, fmt.Errorf("%w: wanted %s, got %s", ErrIdentityMismatch, id, c.Identity())
	}

	return c, nil
}

// GetCompanies returns all companies, optionally filtered by status.
func (db *DB) GetCompanies(ctx context.Context, status schema.CompanyStatus) ([]*schema.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name ASC, created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []*schema.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}

	return companies, nil
}

// MarkStatus transitions a company to the given status. Used for the failed
// terminal state and for startup reclassification.
func (db *DB) MarkStatus(ctx context.Context, id schema.Identity, status schema.CompanyStatus) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if !schema.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}

	release, err := db.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = db.conn.ExecContext(ctx,
		`UPDATE companies SET status = ? WHERE external_id = ? AND version_id = ?`,
		string(status), id.ExternalID, id.VersionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark company %s as %s: %w", id, status, err)
	}
	return nil
}

// MarkInterrupted reclassifies every company still marked syncing to
// incomplete. Called once at startup: the process cannot have been mid-write
// at restart, so any lingering syncing row is a crashed job, never a
// continuation. Returns the number of rows reclassified.
func (db *DB) MarkInterrupted(ctx context.Context) (int64, error) {
	release, err := db.acquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE companies SET status = ? WHERE status = ?`,
		string(schema.StatusIncomplete), string(schema.StatusSyncing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclassify interrupted companies: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reclassified companies: %w", err)
	}
	return n, nil
}

// MarkSyncComplete records a successful sync: the row with the exact
// identity is updated to synced with the given total and timestamp, or
// inserted fresh when no such row exists. The insert path is the expected
// one after a version rollover at the source.
//
// The write is verified afterwards: a row with the exact key must now exist
// with the expected total_records. A mismatch is ErrIntegrity and must not
// be retried blindly.
func (db *DB) MarkSyncComplete(ctx context.Context, id schema.Identity, totalRecords int64, name string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if totalRecords < 0 {
		return fmt.Errorf("total_records must not be negative (got %d)", totalRecords)
	}

	release, err := db.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	now := time.Now().UTC().Format(time.RFC3339)

	query := `
	INSERT INTO companies (name, external_id, version_id, source_handle, status, total_records, last_sync_at, created_at)
	VALUES (?, ?, ?, '', ?, ?, ?, ?)
	ON CONFLICT(external_id, version_id) DO UPDATE SET
		name = excluded.name,
		status = excluded.status,
		total_records = excluded.total_records,
		last_sync_at = excluded.last_sync_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		name, id.ExternalID, id.VersionID,
		string(schema.StatusSynced), totalRecords, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to mark company %s synced: %w", id, err)
	}

	// Verify the write landed with the expected count.
	var gotTotal int64
	var gotStatus string
	err = db.conn.QueryRowContext(ctx,
		`SELECT total_records, status FROM companies WHERE external_id = ? AND version_id = ?`,
		id.ExternalID, id.VersionID,
	).Scan(&gotTotal, &gotStatus)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: company %s missing after mark-complete", ErrIntegrity, id)
	}
	if err != nil {
		return fmt.Errorf("failed to verify company %s: %w", id, err)
	}
	if gotTotal != totalRecords || gotStatus != string(schema.StatusSynced) {
		return fmt.Errorf("%w: company %s has total=%d status=%s, want total=%d status=%s",
			ErrIntegrity, id, gotTotal, gotStatus, totalRecords, schema.StatusSynced)
	}

	return nil
}

// DeleteCompany removes the company and all of its vouchers in one
// transaction. Returns nil when the company does not exist (idempotent).
func (db *DB) DeleteCompany(ctx context.Context, id schema.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	release, err := db.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vouchers WHERE external_id = ? AND version_id = ?`,
		id.ExternalID, id.VersionID,
	); err != nil {
		return fmt.Errorf("failed to delete vouchers for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM companies WHERE external_id = ? AND version_id = ?`,
		id.ExternalID, id.VersionID,
	); err != nil {
		return fmt.Errorf("failed to delete company %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}
	return nil
}

// scanner abstracts sql.Row / sql.Rows for scanCompany.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(s scanner) (*schema.Company, error) {
	var c schema.Company
	var status, createdAt string
	var lastSyncAt sql.NullString

	err := s.Scan(
		&c.ID, &c.Name, &c.ExternalID, &c.VersionID, &c.SourceHandle,
		&status, &c.TotalRecords, &lastSyncAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = schema.CompanyStatus(status)
	c.LastSyncAt = nullStringToTime(lastSyncAt)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}

	return &c, nil
}
