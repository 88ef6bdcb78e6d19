package source

import (
	"fmt"
	"time"
)

// Positions in the voucher projection. FetchPage rows index by these.
const (
	ColVersionID = iota
	ColMasterID
	ColLedgerName
	ColDate
	ColVoucherType
	ColVoucherNumber
	ColDebit
	ColCredit
	ColPartyName
	ColNarration
	ColGSTIN
	ColRegistrationType
	ColPlaceOfSupply
	ColHSNCode
	ColTaxRate
	ColTaxType
	ColCostCentre
	ColCostCategory
	ColBillReference
	ColCurrency
	ColReferenceNumber

	// VoucherColumnCount is the projection width.
	VoucherColumnCount
)

// queryDateLayout is the engine's date literal form.
const queryDateLayout = "20060102"

// VoucherQuery builds the ledger-line query for one date window. The engine
// evaluates the whole window into a single cursor; pages come from draining
// it. One query can return rows for several versions of the same company,
// so the projection carries the row's own version marker for filtering.
func VoucherQuery(from, to time.Time) string {
	return fmt.Sprintf(
		`SELECT $CompanyVersionId, $MasterId, $LedgerName, $Date, $VoucherTypeName, `+
			`$VoucherNumber, $DebitAmount, $CreditAmount, $PartyLedgerName, $Narration, `+
			`$PartyGSTIN, $GSTRegistrationType, $PlaceOfSupply, $HSNCode, $TaxRate, `+
			`$TaxType, $CostCentreName, $CostCategoryName, $BillReference, $Currency, `+
			`$ReferenceNumber `+
			`FROM LedgerVouchers WHERE $Date >= '%s' AND $Date <= '%s'`,
		from.Format(queryDateLayout), to.Format(queryDateLayout),
	)
}
