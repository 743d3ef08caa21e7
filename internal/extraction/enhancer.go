package extraction

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

// Confidence levels, highest first.
const (
	ConfidenceClean            = 0.95
	ConfidenceInconsistent     = 0.80
	ConfidencePoorImage        = 0.70
	ConfidencePoorImageNoTotal = 0.50
)

const (
	isoDateLayout           = "2006-01-02"
	dayFirstSlashDateLayout = "02/01/2006"

	amountScale int32 = 2
)

// Repair normalizes a raw model record into a canonical one. It never fails.
// ExtractionID, Status and ExtractedAt are left for the caller.
func Repair(raw *RawModelRecord) *models.ExtractionRecord {
	if raw == nil {
		raw = &RawModelRecord{}
	}

	rec := &models.ExtractionRecord{
		VendorName:    strings.TrimSpace(raw.VendorName),
		PaymentMethod: strings.TrimSpace(raw.PaymentMethod),
		ReceiptNumber: strings.TrimSpace(raw.ReceiptNumber),
		ReceiptItems:  repairItems(raw.Items),
	}
	rec.Currency = ResolveCurrency(raw.Currency, rec.VendorName)
	rec.Date = NormalizeDate(raw.Date)

	if raw.ImageQuality != nil {
		rec.ImageQuality = &models.ImageQuality{
			IsClear: raw.ImageQuality.IsClear,
			Issues:  append([]string{}, raw.ImageQuality.Issues...),
		}
	}

	rec.Total = coerceTotal(raw.Total)
	rec.Tax = nonNegative(coerceAmount(raw.Tax))

	inclusive := IsTaxInclusiveByDefault(rec.Currency)
	if raw.TaxDetails.TaxInclusive != nil {
		inclusive = *raw.TaxDetails.TaxInclusive
	}
	rec.TaxDetails = models.TaxDetails{
		TaxRate:         strings.TrimSpace(raw.TaxDetails.TaxRate),
		TaxType:         strings.TrimSpace(raw.TaxDetails.TaxType),
		TaxInclusive:    inclusive,
		AdditionalTaxes: repairTaxes(raw.TaxDetails.AdditionalTaxes),
	}
	if len(rec.TaxDetails.AdditionalTaxes) > 0 {
		sum := decimal.Zero
		for _, t := range rec.TaxDetails.AdditionalTaxes {
			sum = sum.Add(t.Amount)
		}
		rec.Tax = sum
	}

	if subtotal, ok := parseAmount(raw.Subtotal); ok && !subtotal.IsNegative() {
		rec.Subtotal = decimal.NullDecimal{Decimal: subtotal, Valid: true}
	} else {
		rec.Subtotal = deriveSubtotal(rec)
	}

	rec.ConfidenceScore = ScoreConfidence(rec)
	return rec
}

// RawFromRecord lifts a canonical record back into raw form so it can be
// repaired again.
func RawFromRecord(rec *models.ExtractionRecord) *RawModelRecord {
	if rec == nil {
		return nil
	}
	inclusive := rec.TaxDetails.TaxInclusive
	raw := &RawModelRecord{
		Currency:      rec.Currency,
		VendorName:    rec.VendorName,
		Tax:           rec.Tax,
		PaymentMethod: rec.PaymentMethod,
		ReceiptNumber: rec.ReceiptNumber,
		TaxDetails: RawTaxDetails{
			TaxRate:      rec.TaxDetails.TaxRate,
			TaxType:      rec.TaxDetails.TaxType,
			TaxInclusive: &inclusive,
		},
	}
	if rec.Date != nil {
		raw.Date = *rec.Date
	}
	if rec.Subtotal.Valid {
		raw.Subtotal = rec.Subtotal.Decimal
	}
	if rec.Total.Valid {
		raw.Total = rec.Total.Decimal
	}
	for _, item := range rec.ReceiptItems {
		raw.Items = append(raw.Items, RawItem{
			ItemName:     item.ItemName,
			ItemCost:     item.ItemCost,
			Quantity:     item.Quantity,
			OriginalName: item.OriginalName,
		})
	}
	for _, t := range rec.TaxDetails.AdditionalTaxes {
		raw.TaxDetails.AdditionalTaxes = append(raw.TaxDetails.AdditionalTaxes, RawTax{Name: t.Name, Amount: t.Amount})
	}
	if rec.ImageQuality != nil {
		iq := *rec.ImageQuality
		iq.Issues = append([]string{}, rec.ImageQuality.Issues...)
		raw.ImageQuality = &iq
	}
	return raw
}

// ScoreConfidence applies the confidence decision order. Image quality wins
// over arithmetic consistency.
func ScoreConfidence(rec *models.ExtractionRecord) float64 {
	score := ConfidenceClean
	if !IsMathematicallyConsistent(rec) {
		score = ConfidenceInconsistent
	}
	if rec.HasPoorImageQuality() {
		if !rec.Total.Valid || rec.Total.Decimal.IsZero() {
			return ConfidencePoorImageNoTotal
		}
		return ConfidencePoorImage
	}
	return score
}

// NormalizeDate returns the date as YYYY-MM-DD, or nil when it cannot be read.
func NormalizeDate(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(isoDateLayout, s); err == nil {
		return formatDate(t)
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return formatDate(t)
	}
	if t, err := time.Parse(dayFirstSlashDateLayout, s); err == nil {
		return formatDate(t)
	}
	return nil
}

func formatDate(t time.Time) *string {
	out := t.Format(isoDateLayout)
	return &out
}

func deriveSubtotal(rec *models.ExtractionRecord) decimal.NullDecimal {
	var value decimal.Decimal
	switch {
	case rec.TaxDetails.TaxInclusive && rec.Total.Valid:
		value = rec.Total.Decimal.Sub(rec.Tax)
	case !rec.TaxDetails.TaxInclusive && len(rec.ReceiptItems) > 0:
		value = rec.ItemsTotal()
	default:
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: nonNegative(value.Round(amountScale)), Valid: true}
}

func repairItems(raw []RawItem) []models.ReceiptItem {
	items := make([]models.ReceiptItem, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.ItemName)
		if name == "" {
			name = strings.TrimSpace(r.OriginalName)
		}
		if name == "" {
			continue
		}
		items = append(items, models.ReceiptItem{
			ItemName:     name,
			ItemCost:     nonNegative(coerceAmount(r.ItemCost)),
			Quantity:     parseQuantity(r.Quantity),
			OriginalName: strings.TrimSpace(r.OriginalName),
		})
	}
	return items
}

func repairTaxes(raw []RawTax) []models.AdditionalTax {
	taxes := make([]models.AdditionalTax, 0, len(raw))
	for _, r := range raw {
		taxes = append(taxes, models.AdditionalTax{
			Name:   strings.TrimSpace(r.Name),
			Amount: nonNegative(coerceAmount(r.Amount)),
		})
	}
	return taxes
}

func coerceAmount(v any) decimal.Decimal {
	d, _ := parseAmount(v)
	return d
}

// coerceTotal keeps a missing total null; anything unreadable becomes zero.
func coerceTotal(v any) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: nonNegative(coerceAmount(v)), Valid: true}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
