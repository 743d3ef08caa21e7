package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

// Tolerance is the largest rounding difference accepted between receipt amounts.
var Tolerance = decimal.New(1, -2)

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// mathWarning returns a non-empty warning when subtotal, tax and total disagree.
// Records missing subtotal or total cannot be checked and produce no warning.
func mathWarning(rec *models.ExtractionRecord) string {
	if !rec.Subtotal.Valid || !rec.Total.Valid {
		return ""
	}
	subtotal, tax, total := rec.Subtotal.Decimal, rec.Tax, rec.Total.Decimal

	if rec.TaxDetails.TaxInclusive {
		expected := total.Sub(tax)
		if withinTolerance(expected, subtotal) {
			return ""
		}
		// Inclusive receipts often list items at post-tax prices.
		if len(rec.ReceiptItems) > 0 && withinTolerance(rec.ItemsTotal(), total) {
			return ""
		}
		return fmt.Sprintf("Mathematical inconsistency: total (%s) - tax (%s) = %s does not match subtotal (%s) for a tax-inclusive receipt",
			total.StringFixed(2), tax.StringFixed(2), expected.StringFixed(2), subtotal.StringFixed(2))
	}

	computed := subtotal.Add(tax)
	if withinTolerance(computed, total) {
		return ""
	}
	return fmt.Sprintf("Mathematical inconsistency: subtotal (%s) + tax (%s) = %s does not match total (%s)",
		subtotal.StringFixed(2), tax.StringFixed(2), computed.StringFixed(2), total.StringFixed(2))
}

// IsMathematicallyConsistent applies the same check Validate reports on.
func IsMathematicallyConsistent(rec *models.ExtractionRecord) bool {
	return mathWarning(rec) == ""
}

// Validate returns advisory warnings for a candidate record, in a fixed order.
func Validate(rec *models.ExtractionRecord) []string {
	warnings := make([]string, 0, 5)
	if rec == nil {
		return append(warnings, "Missing vendor name", "No items found on receipt", "Missing or invalid receipt date")
	}
	if w := mathWarning(rec); w != "" {
		warnings = append(warnings, w)
	}
	if strings.TrimSpace(rec.VendorName) == "" {
		warnings = append(warnings, "Missing vendor name")
	}
	if len(rec.ReceiptItems) == 0 {
		warnings = append(warnings, "No items found on receipt")
	}
	if rec.Date == nil || strings.TrimSpace(*rec.Date) == "" {
		warnings = append(warnings, "Missing or invalid receipt date")
	}
	if !IsSupportedCurrency(rec.Currency) {
		warnings = append(warnings, fmt.Sprintf("Unsupported currency code: %q", rec.Currency))
	}
	return warnings
}

// MergeWarnings concatenates warning lists, dropping blanks and repeats.
func MergeWarnings(lists ...[]string) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, w := range list {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
