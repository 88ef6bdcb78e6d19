package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/source"
	"github.com/shopspring/decimal"
)

// transformRow turns one wire row into a persistable voucher.
//
// Returns (nil, nil) when the row's own version marker does not match the
// target identity: the engine can return rows for several versions of the
// same company in one query, and accepting them would corrupt the
// per-version record set.
//
// Individual field values are coerced defensively; only a missing key field
// makes the row unusable.
func transformRow(row source.Row, target schema.Identity) (*schema.Voucher, error) {
	if len(row) < source.VoucherColumnCount {
		return nil, fmt.Errorf("row has %d columns, want %d", len(row), source.VoucherColumnCount)
	}

	version := coerceString(row[source.ColVersionID])
	if version != target.VersionID {
		return nil, nil
	}

	masterID := coerceString(row[source.ColMasterID])
	if masterID == "" {
		return nil, fmt.Errorf("missing voucher master id")
	}
	ledgerName := coerceString(row[source.ColLedgerName])
	if ledgerName == "" {
		return nil, fmt.Errorf("missing ledger name")
	}

	v := &schema.Voucher{
		ExternalID: target.ExternalID,
		VersionID:  target.VersionID,
		MasterID:   masterID,
		LedgerName: ledgerName,
		Date:       coerceDate(row[source.ColDate]),
		Type:       coerceString(row[source.ColVoucherType]),
		Number:     coerceString(row[source.ColVoucherNumber]),
		Debit:      coerceDecimal(row[source.ColDebit]),
		Credit:     coerceDecimal(row[source.ColCredit]),
		PartyName:  coerceString(row[source.ColPartyName]),

		Narration:        coerceString(row[source.ColNarration]),
		GSTIN:            coerceString(row[source.ColGSTIN]),
		RegistrationType: coerceString(row[source.ColRegistrationType]),
		PlaceOfSupply:    coerceString(row[source.ColPlaceOfSupply]),
		HSNCode:          coerceString(row[source.ColHSNCode]),
		TaxRate:          coerceString(row[source.ColTaxRate]),
		TaxType:          coerceString(row[source.ColTaxType]),
		CostCentre:       coerceString(row[source.ColCostCentre]),
		CostCategory:     coerceString(row[source.ColCostCategory]),
		BillReference:    coerceString(row[source.ColBillReference]),
		Currency:         coerceString(row[source.ColCurrency]),
		ReferenceNumber:  coerceString(row[source.ColReferenceNumber]),
	}

	return v, nil
}

// coerceString normalizes a wire value to a trimmed string. Numeric values
// are formatted without an exponent so version markers and ids compare as
// plain strings everywhere.
func coerceString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		// The int64 conversion is only defined while x fits; beyond that
		// the plain float format is already exponent-free.
		if math.Abs(x) < 1<<62 && x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(schema.DateLayout)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}

// coerceDecimal parses a monetary amount; garbage becomes zero.
func coerceDecimal(v interface{}) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(x)
	case int64:
		return decimal.NewFromInt(x)
	}

	s := strings.ReplaceAll(coerceString(v), ",", "")
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	return decimal.Zero
}

// dateLayouts are the wire forms the engine has been seen emitting.
var dateLayouts = []string{
	"20060102",
	schema.DateLayout,
	"02-01-2006",
	"2-Jan-2006",
	time.RFC3339,
}

// coerceDate reduces a wire date to the canonical form; garbage becomes
// empty (persisted as null).
func coerceDate(v interface{}) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(schema.DateLayout)
	}

	s := coerceString(v)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(schema.DateLayout)
		}
	}
	return ""
}
