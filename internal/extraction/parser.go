package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

const (
	fieldVendor = "vendor_name"
	fieldItems  = "receipt_items"
	fieldTotal  = "total"
)

const defaultNotAReceiptReason = "the image does not contain a receipt"

// RawItem is one line item as the model reported it.
type RawItem struct {
	ItemName     string
	ItemCost     any
	Quantity     any
	OriginalName string
}

type RawTax struct {
	Name   string
	Amount any
}

type RawTaxDetails struct {
	TaxRate         string
	TaxType         string
	TaxInclusive    *bool
	AdditionalTaxes []RawTax
}

// RawModelRecord is the decoded model answer before repair. Amount fields hold
// whatever the model sent (json.Number, string, decimal.Decimal or nil).
type RawModelRecord struct {
	IsReceipt     *bool
	Reason        string
	Date          string
	Currency      string
	VendorName    string
	Items         []RawItem
	Subtotal      any
	Tax           any
	Total         any
	TaxDetails    RawTaxDetails
	PaymentMethod string
	ReceiptNumber string
	ImageQuality  *models.ImageQuality
}

func (r *RawModelRecord) poorImage() bool {
	return r.ImageQuality != nil && !r.ImageQuality.IsClear
}

// Parse turns model text into a raw record. It fails with *NotAReceiptError when
// the model rejected the image and *ParseError for anything unusable.
func Parse(text string) (*RawModelRecord, error) {
	fields, err := decodeObject(text)
	if err != nil {
		return nil, &ParseError{Reason: ReasonMalformed, Err: err}
	}

	raw := rawFromMap(fields)
	if raw.IsReceipt != nil && !*raw.IsReceipt {
		reason := strings.TrimSpace(raw.Reason)
		if reason == "" {
			reason = defaultNotAReceiptReason
		}
		return nil, &NotAReceiptError{Reason: reason}
	}

	if strings.TrimSpace(raw.VendorName) == "" {
		return nil, &ParseError{Reason: ReasonMissingField, Field: fieldVendor}
	}
	if len(raw.Items) == 0 {
		return nil, &ParseError{Reason: ReasonMissingField, Field: fieldItems}
	}

	total, ok := parseAmount(raw.Total)
	switch {
	case ok && !total.IsNegative():
	case raw.poorImage():
		// Unreadable totals on blurry photos are left for classification.
		raw.Total = nil
	case raw.Total == nil:
		return nil, &ParseError{Reason: ReasonMissingField, Field: fieldTotal}
	default:
		return nil, &ParseError{Reason: ReasonInvalidTotal, Field: fieldTotal,
			Err: fmt.Errorf("got %v", raw.Total)}
	}
	return raw, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decodeObject decodes the first JSON object in text, tolerating prose around it.
func decodeObject(text string) (map[string]any, error) {
	cleaned := stripCodeFences(text)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}
	obj, err := decodeJSON(cleaned)
	if err == nil {
		return obj, nil
	}
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if obj, innerErr := decodeJSON(cleaned[start : end+1]); innerErr == nil {
			return obj, nil
		}
	}
	return nil, err
}

func decodeJSON(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return out, nil
}

func rawFromMap(m map[string]any) *RawModelRecord {
	raw := &RawModelRecord{
		IsReceipt:     boolField(m, "is_receipt"),
		Reason:        stringField(m, "reason", "not_receipt_reason"),
		Date:          stringField(m, "date", "receipt_date"),
		Currency:      stringField(m, "currency"),
		VendorName:    stringField(m, "vendor_name", "vendor", "merchant", "store_name"),
		Subtotal:      field(m, "subtotal"),
		Tax:           field(m, "tax", "tax_amount"),
		Total:         field(m, "total", "total_amount"),
		PaymentMethod: stringField(m, "payment_method"),
		ReceiptNumber: stringField(m, "receipt_number"),
	}

	list, _ := field(m, "receipt_items", "items").([]any)
	for _, entry := range list {
		im, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := RawItem{
			ItemName:     stringField(im, "item_name", "name", "description"),
			ItemCost:     field(im, "item_cost", "price", "cost", "amount"),
			Quantity:     field(im, "quantity", "qty"),
			OriginalName: stringField(im, "original_name"),
		}
		if strings.TrimSpace(item.ItemName) == "" {
			item.ItemName = item.OriginalName
		}
		if strings.TrimSpace(item.ItemName) == "" {
			continue
		}
		raw.Items = append(raw.Items, item)
	}

	td, _ := m["tax_details"].(map[string]any)
	if td == nil {
		td = map[string]any{}
	}
	raw.TaxDetails = RawTaxDetails{
		TaxRate:      stringField(td, "tax_rate"),
		TaxType:      stringField(td, "tax_type"),
		TaxInclusive: boolField(td, "tax_inclusive"),
	}
	if raw.TaxDetails.TaxInclusive == nil {
		raw.TaxDetails.TaxInclusive = boolField(m, "tax_inclusive")
	}
	taxes, _ := td["additional_taxes"].([]any)
	for _, entry := range taxes {
		tm, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		raw.TaxDetails.AdditionalTaxes = append(raw.TaxDetails.AdditionalTaxes, RawTax{
			Name:   stringField(tm, "name", "tax_name"),
			Amount: field(tm, "amount"),
		})
	}

	if iq, ok := m["image_quality"].(map[string]any); ok {
		quality := &models.ImageQuality{IsClear: true, Issues: []string{}}
		if clear := boolField(iq, "is_clear"); clear != nil {
			quality.IsClear = *clear
		}
		issues, _ := iq["issues"].([]any)
		for _, issue := range issues {
			if s, ok := issue.(string); ok && strings.TrimSpace(s) != "" {
				quality.Issues = append(quality.Issues, strings.TrimSpace(s))
			}
		}
		raw.ImageQuality = quality
	}
	return raw
}

// field returns the first present, non-null value among keys.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	switch v := field(m, keys...).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func boolField(m map[string]any, keys ...string) *bool {
	switch v := field(m, keys...).(type) {
	case bool:
		return &v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return &b
	default:
		return nil
	}
}

// parseAmount coerces a loosely typed model value into a decimal.
func parseAmount(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		return parseAmountString(n)
	default:
		return decimal.Zero, false
	}
}

func parseAmountString(s string) (decimal.Decimal, bool) {
	var b bytes.Buffer
	for _, r := range strings.TrimSpace(s) {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}
	switch {
	case strings.Contains(cleaned, ".") && strings.Contains(cleaned, ","):
		// 1,234.56 or 1.234,56: the later separator is the decimal point.
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Contains(cleaned, ","):
		// A lone comma with one or two trailing digits is a decimal comma;
		// otherwise commas group thousands.
		if i := strings.LastIndex(cleaned, ","); strings.Count(cleaned, ",") == 1 && len(cleaned)-i-1 >= 1 && len(cleaned)-i-1 <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseQuantity(v any) int {
	var q int64
	switch n := v.(type) {
	case int:
		q = int64(n)
	case int64:
		q = n
	case float64:
		q = int64(n + 0.5)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			q = i
		} else if f, err := n.Float64(); err == nil {
			q = int64(f + 0.5)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			q = int64(i)
		}
	}
	if q < 1 {
		return 1
	}
	return int(q)
}
