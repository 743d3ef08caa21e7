package export

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

const (
	ReceiptsSheet = "Receipts"
	ItemsSheet    = "Items"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var receiptHeaders = []string{
	"Extraction ID", "Date", "Vendor", "Currency", "Subtotal", "Tax", "Total",
	"Tax Inclusive", "Payment Method", "Receipt Number", "Confidence", "Status",
	"Warnings", "Image URL", "Extracted At",
}

var itemHeaders = []string{"Extraction ID", "Line", "Item", "Original Name", "Unit Cost", "Quantity", "Line Total"}

// WriteXLSX renders receipts and their line items as a two-sheet workbook.
func WriteXLSX(records []models.ExtractionRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ReceiptsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ItemsSheet); err != nil {
		return nil, fmt.Errorf("create items sheet: %w", err)
	}

	if err := writeRow(f, ReceiptsSheet, 1, toAny(receiptHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, ItemsSheet, 1, toAny(itemHeaders)); err != nil {
		return nil, err
	}

	itemRow := 2
	for i, rec := range records {
		date := ""
		if rec.Date != nil {
			date = *rec.Date
		}
		var warnings string
		if rec.ExtractionMetadata != nil {
			warnings = strings.Join(rec.ExtractionMetadata.Warnings, "; ")
		}
		extractedAt := ""
		if !rec.ExtractedAt.IsZero() {
			extractedAt = rec.ExtractedAt.UTC().Format("2006-01-02 15:04:05")
		}

		row := []any{
			rec.ExtractionID, date, rec.VendorName, rec.Currency,
			nullAmount(rec.Subtotal), rec.Tax.InexactFloat64(), nullAmount(rec.Total),
			rec.TaxDetails.TaxInclusive, rec.PaymentMethod, rec.ReceiptNumber,
			rec.ConfidenceScore, string(rec.Status), warnings, rec.ImageURL, extractedAt,
		}
		if err := writeRow(f, ReceiptsSheet, i+2, row); err != nil {
			return nil, err
		}

		for n, item := range rec.ReceiptItems {
			line := []any{
				rec.ExtractionID, n + 1, item.ItemName, item.OriginalName,
				item.ItemCost.InexactFloat64(), item.Quantity, item.LineTotal().InexactFloat64(),
			}
			if err := writeRow(f, ItemsSheet, itemRow, line); err != nil {
				return nil, err
			}
			itemRow++
		}
	}

	_ = f.SetColWidth(ReceiptsSheet, "A", "A", 38)
	_ = f.SetColWidth(ReceiptsSheet, "C", "C", 28)
	_ = f.SetColWidth(ReceiptsSheet, "M", "N", 48)
	_ = f.SetColWidth(ItemsSheet, "A", "A", 38)
	_ = f.SetColWidth(ItemsSheet, "C", "D", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// nullAmount leaves the cell empty for missing amounts.
func nullAmount(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
