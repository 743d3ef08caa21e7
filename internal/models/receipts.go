package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExtractionStatus string

const (
	StatusSuccess ExtractionStatus = "success"
	StatusPartial ExtractionStatus = "partial"
	StatusFailed  ExtractionStatus = "failed"
)

type ReceiptItem struct {
	ItemName     string          `json:"item_name"`
	ItemCost     decimal.Decimal `json:"item_cost"`
	Quantity     int             `json:"quantity"`
	OriginalName string          `json:"original_name,omitempty"`
}

// LineTotal is item_cost × quantity.
func (i ReceiptItem) LineTotal() decimal.Decimal {
	return i.ItemCost.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type AdditionalTax struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type TaxDetails struct {
	TaxRate         string          `json:"tax_rate,omitempty"`
	TaxType         string          `json:"tax_type,omitempty"`
	TaxInclusive    bool            `json:"tax_inclusive"`
	AdditionalTaxes []AdditionalTax `json:"additional_taxes"`
}

type ImageQuality struct {
	IsClear bool     `json:"is_clear"`
	Issues  []string `json:"issues"`
}

type ExtractionMetadata struct {
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	ModelIdentifier  string   `json:"model_identifier"`
	Warnings         []string `json:"warnings"`
}

// ExtractionRecord is the canonical receipt produced by the extraction pipeline.
type ExtractionRecord struct {
	ExtractionID       string              `json:"extraction_id"`
	Date               *string             `json:"date"`
	Currency           string              `json:"currency"`
	VendorName         string              `json:"vendor_name"`
	ReceiptItems       []ReceiptItem       `json:"receipt_items"`
	Subtotal           decimal.NullDecimal `json:"subtotal"`
	Tax                decimal.Decimal     `json:"tax"`
	TaxDetails         TaxDetails          `json:"tax_details"`
	Total              decimal.NullDecimal `json:"total"`
	PaymentMethod      string              `json:"payment_method,omitempty"`
	ReceiptNumber      string              `json:"receipt_number,omitempty"`
	ConfidenceScore    float64             `json:"confidence_score"`
	ImageQuality       *ImageQuality       `json:"image_quality,omitempty"`
	Status             ExtractionStatus    `json:"status"`
	ImageURL           string              `json:"image_url,omitempty"`
	ExtractedAt        time.Time           `json:"extracted_at"`
	ExtractionMetadata *ExtractionMetadata `json:"extraction_metadata,omitempty"`
}

// HasPoorImageQuality reports whether the model flagged the photo as unclear.
func (r *ExtractionRecord) HasPoorImageQuality() bool {
	return r.ImageQuality != nil && !r.ImageQuality.IsClear
}

// ItemsTotal sums item_cost × quantity over every item.
func (r *ExtractionRecord) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.ReceiptItems {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Clone returns a deep copy so callers can hand the record to side effects
// without sharing slices.
func (r *ExtractionRecord) Clone() *ExtractionRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Date != nil {
		d := *r.Date
		out.Date = &d
	}
	out.ReceiptItems = append([]ReceiptItem(nil), r.ReceiptItems...)
	out.TaxDetails.AdditionalTaxes = append([]AdditionalTax(nil), r.TaxDetails.AdditionalTaxes...)
	if r.ImageQuality != nil {
		iq := *r.ImageQuality
		iq.Issues = append([]string(nil), r.ImageQuality.Issues...)
		out.ImageQuality = &iq
	}
	if r.ExtractionMetadata != nil {
		md := *r.ExtractionMetadata
		md.Warnings = append([]string(nil), r.ExtractionMetadata.Warnings...)
		out.ExtractionMetadata = &md
	}
	return &out
}

type ExtractRequest struct {
	Image           []byte
	Filename        string
	ContentType     string
	CustomID        string
	SaveImage       bool
	IncludeMetadata bool
}

type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

type ReceiptListResponse struct {
	Receipts   []ExtractionRecord `json:"receipts"`
	Pagination Pagination         `json:"pagination"`
}

type ValidationResponse struct {
	IsValid         bool             `json:"is_valid"`
	Warnings        []string         `json:"warnings"`
	Status          ExtractionStatus `json:"status"`
	ConfidenceScore float64          `json:"confidence_score"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

type ErrorBody struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	ExtractionID string         `json:"extraction_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}
