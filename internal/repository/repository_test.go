package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/db"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipts.db")
	if err := db.RunMigrations(path); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	conn, err := db.NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewRepository(conn)
}

func sampleRecord(id string) *models.ExtractionRecord {
	date := "2024-01-15"
	return &models.ExtractionRecord{
		ExtractionID: id,
		Date:         &date,
		Currency:     "USD",
		VendorName:   "Grocery Store Inc.",
		ReceiptItems: []models.ReceiptItem{
			{ItemName: "Milk", ItemCost: decimal.RequireFromString("3.99"), Quantity: 1},
			{ItemName: "Bread", ItemCost: decimal.RequireFromString("2.50"), Quantity: 2, OriginalName: "BRD WHT"},
		},
		Subtotal: decimal.NewNullDecimal(decimal.RequireFromString("8.99")),
		Tax:      decimal.RequireFromString("0.72"),
		TaxDetails: models.TaxDetails{
			TaxRate:         "8%",
			AdditionalTaxes: []models.AdditionalTax{{Name: "State", Amount: decimal.RequireFromString("0.72")}},
		},
		Total:           decimal.NewNullDecimal(decimal.RequireFromString("9.71")),
		PaymentMethod:   "card",
		ConfidenceScore: 0.95,
		ImageQuality:    &models.ImageQuality{IsClear: true, Issues: []string{}},
		Status:          models.StatusSuccess,
		ImageURL:        "/storage/images/" + id + ".jpg",
		ExtractedAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		ExtractionMetadata: &models.ExtractionMetadata{
			ProcessingTimeMs: 1234,
			ModelIdentifier:  "gemini-2.0-flash",
			Warnings:         []string{"Image quality issue: glare"},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	savedID, err := repo.Save(ctx, sampleRecord("rcpt-1"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if savedID == "" {
		t.Fatal("expected a saved id")
	}

	got, err := repo.GetByExtractionID(ctx, "rcpt-1")
	if err != nil {
		t.Fatalf("GetByExtractionID returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.VendorName != "Grocery Store Inc." || got.Date == nil || *got.Date != "2024-01-15" {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.ReceiptItems) != 2 || got.ReceiptItems[1].ItemName != "Bread" || got.ReceiptItems[1].Quantity != 2 {
		t.Errorf("items = %+v", got.ReceiptItems)
	}
	if !got.Total.Valid || !got.Total.Decimal.Equal(decimal.RequireFromString("9.71")) {
		t.Errorf("total = %v", got.Total)
	}
	if len(got.TaxDetails.AdditionalTaxes) != 1 || !got.TaxDetails.AdditionalTaxes[0].Amount.Equal(decimal.RequireFromString("0.72")) {
		t.Errorf("tax details = %+v", got.TaxDetails)
	}
	if got.ExtractionMetadata == nil || got.ExtractionMetadata.ProcessingTimeMs != 1234 ||
		len(got.ExtractionMetadata.Warnings) != 1 {
		t.Errorf("metadata = %+v", got.ExtractionMetadata)
	}
	if !got.ExtractedAt.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("extracted_at = %v", got.ExtractedAt)
	}
}

func TestSaveNullableFields(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rec := sampleRecord("rcpt-null")
	rec.Date = nil
	rec.Subtotal = decimal.NullDecimal{}
	rec.Total = decimal.NullDecimal{}
	rec.ImageQuality = nil
	rec.ExtractionMetadata = nil
	rec.Status = models.StatusFailed

	if _, err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := repo.GetByExtractionID(ctx, "rcpt-null")
	if err != nil || got == nil {
		t.Fatalf("GetByExtractionID = %v, %v", got, err)
	}
	if got.Date != nil || got.Subtotal.Valid || got.Total.Valid || got.ImageQuality != nil || got.ExtractionMetadata != nil {
		t.Errorf("nullable fields not preserved: %+v", got)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.GetByExtractionID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveDuplicateExtractionID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Save(ctx, sampleRecord("dup")); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if _, err := repo.Save(ctx, sampleRecord("dup")); !errors.Is(err, ErrDuplicateExtractionID) {
		t.Errorf("second Save error = %v, want ErrDuplicateExtractionID", err)
	}
}

func TestSaveRollsBackOnItemFailure(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rec := sampleRecord("broken")
	rec.ReceiptItems[1].Quantity = 0 // violates the quantity check

	if _, err := repo.Save(ctx, rec); err == nil {
		t.Fatal("expected Save to fail")
	}
	got, err := repo.GetByExtractionID(ctx, "broken")
	if err != nil {
		t.Fatalf("GetByExtractionID: %v", err)
	}
	if got != nil {
		t.Error("receipt row was left behind after a failed item insert")
	}
	if n, err := repo.Count(ctx); err != nil || n != 0 {
		t.Errorf("Count = %d, %v; want 0", n, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := repo.Save(ctx, sampleRecord(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Save r%d: %v", i, err)
		}
	}

	page, err := repo.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page) != 2 || page[0].ExtractionID != "r4" || page[1].ExtractionID != "r3" {
		t.Fatalf("page = %v", ids(page))
	}
	if len(page[0].ReceiptItems) != 2 {
		t.Errorf("items not attached: %+v", page[0].ReceiptItems)
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 5 {
		t.Errorf("Count = %d, %v; want 5", n, err)
	}

	empty, err := repo.List(ctx, 10, 50)
	if err != nil || len(empty) != 0 {
		t.Errorf("List past the end = %v, %v", ids(empty), err)
	}
}

func ids(records []models.ExtractionRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ExtractionID)
	}
	return out
}
