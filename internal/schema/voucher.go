package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical form for voucher transaction dates. All dates
// coming off the wire are reduced to this form before persistence so that
// range queries can compare lexicographically.
const DateLayout = "2006-01-02"

// Voucher is one transaction ledger line pulled from the external source.
//
// The source groups several ledger lines under one voucher via MasterID, and
// can re-emit the same logical line across overlapping date windows.
// (ExternalID, VersionID, MasterID, LedgerName) is the uniqueness key;
// re-delivery is an ignore-on-conflict no-op.
type Voucher struct {
	ID         int64
	ExternalID string
	VersionID  string

	MasterID   string // source-assigned id grouping lines into one voucher
	LedgerName string
	Date       string // canonical DateLayout form
	Type       string
	Number     string

	Debit  decimal.Decimal
	Credit decimal.Decimal

	PartyName string

	// Descriptive tax / classification fields. All optional; garbage values
	// from the source are nulled out during transform.
	Narration        string
	GSTIN            string
	RegistrationType string
	PlaceOfSupply    string
	HSNCode          string
	TaxRate          string
	TaxType          string
	CostCentre       string
	CostCategory     string
	BillReference    string
	Currency         string
	ReferenceNumber  string

	CreatedAt time.Time
}

// Identity returns the owning company identity.
func (v *Voucher) Identity() Identity {
	return Identity{ExternalID: v.ExternalID, VersionID: v.VersionID}
}

// Key returns the uniqueness key as a printable string, for log lines.
func (v *Voucher) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s", v.ExternalID, v.VersionID, v.MasterID, v.LedgerName)
}

// Validate checks the fields that persistence depends on.
func (v *Voucher) Validate() error {
	if err := v.Identity().Validate(); err != nil {
		return err
	}
	if v.MasterID == "" {
		return fmt.Errorf("voucher master id is required")
	}
	if v.LedgerName == "" {
		return fmt.Errorf("ledger name is required")
	}
	if v.Date != "" {
		if _, err := time.Parse(DateLayout, v.Date); err != nil {
			return fmt.Errorf("date %q is not in canonical form: %w", v.Date, err)
		}
	}
	return nil
}
