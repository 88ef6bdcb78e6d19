package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/shopspring/decimal"
)

// InsertVouchers bulk-inserts a batch against the voucher uniqueness key,
// ignoring rows that already exist. The source re-emits the same logical
// line across overlapping date windows; first-write-wins.
//
// Returns the number of rows actually inserted (duplicates excluded).
func (db *DB) InsertVouchers(ctx context.Context, batch []*schema.Voucher) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	release, err := db.acquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO vouchers (
		external_id, version_id, master_id, ledger_name,
		date, type, number, debit, credit, party_name,
		narration, gstin, registration_type, place_of_supply, hsn_code,
		tax_rate, tax_type, cost_centre, cost_category, bill_reference,
		currency, reference_number, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(external_id, version_id, master_id, ledger_name) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare voucher insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, v := range batch {
		if err := v.Validate(); err != nil {
			return inserted, fmt.Errorf("invalid voucher %s: %w", v.Key(), err)
		}

		createdAt := v.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		res, err := stmt.ExecContext(ctx,
			v.ExternalID, v.VersionID, v.MasterID, v.LedgerName,
			nullIfEmpty(v.Date), nullIfEmpty(v.Type), nullIfEmpty(v.Number),
			v.Debit.String(), v.Credit.String(), nullIfEmpty(v.PartyName),
			nullIfEmpty(v.Narration), nullIfEmpty(v.GSTIN), nullIfEmpty(v.RegistrationType),
			nullIfEmpty(v.PlaceOfSupply), nullIfEmpty(v.HSNCode), nullIfEmpty(v.TaxRate),
			nullIfEmpty(v.TaxType), nullIfEmpty(v.CostCentre), nullIfEmpty(v.CostCategory),
			nullIfEmpty(v.BillReference), nullIfEmpty(v.Currency), nullIfEmpty(v.ReferenceNumber),
			createdAt.Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert voucher %s: %w", v.Key(), err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to count inserted rows: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit voucher batch: %w", err)
	}

	return inserted, nil
}

// CountVouchers returns the persisted row count for the identity. This is
// the source of truth for total_records when a job completes; the pipeline's
// accumulated counter can drift when duplicates were ignored.
func (db *DB) CountVouchers(ctx context.Context, id schema.Identity) (int64, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vouchers WHERE external_id = ? AND version_id = ?`,
		id.ExternalID, id.VersionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count vouchers for %s: %w", id, err)
	}
	return count, nil
}

// VoucherFilter configures ListVouchers.
type VoucherFilter struct {
	// FromDate and ToDate bound the transaction date (canonical form,
	// inclusive). Empty means unbounded.
	FromDate string
	ToDate   string
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// ListVouchers returns vouchers for the identity ordered by date, for the
// polling UI collaborator.
func (db *DB) ListVouchers(ctx context.Context, id schema.Identity, filter VoucherFilter) ([]*schema.Voucher, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	query := `
	SELECT id, external_id, version_id, master_id, ledger_name,
	       date, type, number, debit, credit, party_name,
	       narration, gstin, registration_type, place_of_supply, hsn_code,
	       tax_rate, tax_type, cost_centre, cost_category, bill_reference,
	       currency, reference_number, created_at
	FROM vouchers
	WHERE external_id = ? AND version_id = ?`
	args := []interface{}{id.ExternalID, id.VersionID}

	if filter.FromDate != "" {
		query += ` AND date >= ?`
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != "" {
		query += ` AND date <= ?`
		args = append(args, filter.ToDate)
	}

	query += ` ORDER BY date ASC, master_id ASC, ledger_name ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers for %s: %w", id, err)
	}
	defer rows.Close()

	var vouchers []*schema.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vouchers: %w", err)
	}

	return vouchers, nil
}

func scanVoucher(rows *sql.Rows) (*schema.Voucher, error) {
	var v schema.Voucher
	var date, typ, number, party sql.NullString
	var narration, gstin, regType, pos, hsn sql.NullString
	var taxRate, taxType, costCentre, costCategory, billRef sql.NullString
	var currency, refNumber sql.NullString
	var debit, credit, createdAt string

	err := rows.Scan(
		&v.ID, &v.ExternalID, &v.VersionID, &v.MasterID, &v.LedgerName,
		&date, &typ, &number, &debit, &credit, &party,
		&narration, &gstin, &regType, &pos, &hsn,
		&taxRate, &taxType, &costCentre, &costCategory, &billRef,
		&currency, &refNumber, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	v.Date = date.String
	v.Type = typ.String
	v.Number = number.String
	v.PartyName = party.String
	v.Narration = narration.String
	v.GSTIN = gstin.String
	v.RegistrationType = regType.String
	v.PlaceOfSupply = pos.String
	v.HSNCode = hsn.String
	v.TaxRate = taxRate.String
	v.TaxType = taxType.String
	v.CostCentre = costCentre.String
	v.CostCategory = costCategory.String
	v.BillReference = billRef.String
	v.Currency = currency.String
	v.ReferenceNumber = refNumber.String

	if d, err := decimal.NewFromString(debit); err == nil {
		v.Debit = d
	}
	if c, err := decimal.NewFromString(credit); err == nil {
		v.Credit = c
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		v.CreatedAt = t
	}

	return &v, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
