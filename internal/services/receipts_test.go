package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/analyzer"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/extraction"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/storage"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/validation"
)

const groceryJSON = `{
  "is_receipt": true,
  "date": "2024-01-15",
  "currency": "USD",
  "vendor_name": "Grocery Store Inc.",
  "receipt_items": [
    {"item_name": "Milk", "item_cost": 3.99, "quantity": 1},
    {"item_name": "Bread", "item_cost": 2.50, "quantity": 2}
  ],
  "subtotal": 8.99,
  "tax": 0.72,
  "tax_details": {"tax_inclusive": false, "additional_taxes": []},
  "total": 9.71,
  "image_quality": {"is_clear": true, "issues": []}
}`

type stubAnalyzer struct {
	reply      string
	err        error
	configured bool
}

func (a *stubAnalyzer) Complete(context.Context, analyzer.Request) (string, error) {
	return a.reply, a.err
}
func (a *stubAnalyzer) ModelName() string { return "stub-vision" }
func (a *stubAnalyzer) Configured() bool  { return a.configured }

type memoryRepo struct {
	mu      sync.Mutex
	saved   []*models.ExtractionRecord
	saveErr error
	pingErr error
	ctxErrs []error
}

func (r *memoryRepo) Save(ctx context.Context, rec *models.ExtractionRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.saveErr != nil {
		return "", r.saveErr
	}
	r.saved = append(r.saved, rec)
	return "1", nil
}

func (r *memoryRepo) GetByExtractionID(_ context.Context, id string) (*models.ExtractionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.saved {
		if rec.ExtractionID == id {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]models.ExtractionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExtractionRecord
	for i := len(r.saved) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *r.saved[i])
	}
	return out, nil
}

func (r *memoryRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.saved)), nil
}

func (r *memoryRepo) Ping(context.Context) error { return r.pingErr }

type stubImages struct {
	saveErr error
	files   map[string][]byte
}

func (s *stubImages) Save(_ context.Context, data []byte, id string) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[id+".jpg"] = data
	return "/storage/images/" + id + ".jpg", nil
}

func (s *stubImages) Open(_ context.Context, filename string) ([]byte, error) {
	if filename == "../etc.jpg" {
		return nil, storage.ErrInvalidFilename
	}
	data, ok := s.files[filename]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (s *stubImages) Ping(context.Context) error { return nil }

// extractorFunc adapts a function to the Extractor interface.
type extractorFunc func(ctx context.Context, image []byte, mimeType string) (*extraction.Result, error)

func (f extractorFunc) Extract(ctx context.Context, image []byte, mimeType string) (*extraction.Result, error) {
	return f(ctx, image, mimeType)
}

type fixture struct {
	svc    ReceiptService
	repo   *memoryRepo
	images *stubImages
	model  *stubAnalyzer
}

func newFixture(t *testing.T, reply string) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &memoryRepo{},
		images: &stubImages{},
		model:  &stubAnalyzer{reply: reply, configured: true},
	}
	ext := extraction.NewExtractor(f.model, extraction.Options{
		Policy: extraction.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, utils.NopLogger())
	f.svc = NewService(Deps{
		Repo:           f.repo,
		Images:         f.images,
		Extractor:      ext,
		Analyzer:       f.model,
		MaxFileSize:    10 * 1024 * 1024,
		PersistTimeout: time.Second,
	})
	return f
}

func upload(id string) *models.ExtractRequest {
	return &models.ExtractRequest{
		Image:       []byte("fake-jpeg-bytes"),
		Filename:    "receipt.jpg",
		ContentType: "image/jpeg",
		CustomID:    id,
		SaveImage:   true,
	}
}

func appErrorOf(t *testing.T, err error) *utils.AppError {
	t.Helper()
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *utils.AppError, got %T: %v", err, err)
	}
	return appErr
}

func TestExtractReceiptDetails(t *testing.T) {
	f := newFixture(t, groceryJSON)

	rec, err := f.svc.ExtractReceiptDetails(context.Background(), upload("order-42"))
	if err != nil {
		t.Fatalf("ExtractReceiptDetails returned error: %v", err)
	}
	if rec.ExtractionID != "order-42" || rec.Status != models.StatusSuccess {
		t.Errorf("id=%q status=%q", rec.ExtractionID, rec.Status)
	}
	if rec.ImageURL != "/storage/images/order-42.jpg" {
		t.Errorf("image_url = %q", rec.ImageURL)
	}
	if rec.ConfidenceScore != extraction.ConfidenceClean {
		t.Errorf("confidence = %v", rec.ConfidenceScore)
	}
	if rec.ExtractedAt.IsZero() || rec.ExtractedAt.Location() != time.UTC {
		t.Errorf("extracted_at = %v", rec.ExtractedAt)
	}
	if rec.ExtractionMetadata != nil {
		t.Error("metadata should be omitted unless requested")
	}

	if len(f.repo.saved) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(f.repo.saved))
	}
	stored := f.repo.saved[0]
	if stored == rec {
		t.Error("persisted record must not share memory with the response")
	}
	if stored.ExtractionMetadata == nil || stored.ExtractionMetadata.ModelIdentifier != "stub-vision" {
		t.Errorf("stored metadata = %+v", stored.ExtractionMetadata)
	}
}

func TestExtractGeneratesIDAndIncludesMetadata(t *testing.T) {
	f := newFixture(t, groceryJSON)
	req := upload("")
	req.SaveImage = false
	req.IncludeMetadata = true

	rec, err := f.svc.ExtractReceiptDetails(context.Background(), req)
	if err != nil {
		t.Fatalf("ExtractReceiptDetails returned error: %v", err)
	}
	if rec.ExtractionID == "" {
		t.Error("expected a generated extraction id")
	}
	if rec.ImageURL != "" || len(f.images.files) != 0 {
		t.Errorf("image should not be stored: url=%q files=%d", rec.ImageURL, len(f.images.files))
	}
	if rec.ExtractionMetadata == nil || rec.ExtractionMetadata.Warnings == nil {
		t.Errorf("metadata = %+v", rec.ExtractionMetadata)
	}
}

func TestExtractSurvivesSideEffectFailures(t *testing.T) {
	f := newFixture(t, groceryJSON)
	f.images.saveErr = errors.New("bucket gone")
	f.repo.saveErr = errors.New("disk full")

	rec, err := f.svc.ExtractReceiptDetails(context.Background(), upload("r-1"))
	if err != nil {
		t.Fatalf("side effect failures must not fail the request: %v", err)
	}
	if rec.ImageURL != "" {
		t.Errorf("image_url = %q, want empty after a storage failure", rec.ImageURL)
	}
	if rec.Status != models.StatusSuccess {
		t.Errorf("status = %q", rec.Status)
	}
}

func TestExtractPersistsAfterClientCancel(t *testing.T) {
	repo := &memoryRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewService(Deps{
		Repo: repo,
		Extractor: extractorFunc(func(context.Context, []byte, string) (*extraction.Result, error) {
			raw, err := extraction.Parse(groceryJSON)
			if err != nil {
				return nil, err
			}
			cancel()
			return &extraction.Result{Record: extraction.Repair(raw), Attempts: 1}, nil
		}),
		Analyzer:    &stubAnalyzer{configured: true},
		MaxFileSize: 1024,
	})

	if _, err := svc.ExtractReceiptDetails(ctx, upload("late")); err != nil {
		t.Fatalf("ExtractReceiptDetails returned error: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("record was not persisted after the caller went away")
	}
	if repo.ctxErrs[0] != nil {
		t.Errorf("persist context was cancelled: %v", repo.ctxErrs[0])
	}
}

func TestExtractFailuresCarryExtractionID(t *testing.T) {
	cases := []struct {
		name   string
		reply  string
		err    error
		code   string
		status int
	}{
		{"not a receipt", `{"is_receipt": false, "reason": "a cat"}`, nil, utils.CodeNotAReceipt, http.StatusBadRequest},
		{"no items", `{"is_receipt": true, "vendor_name": "Cafe", "receipt_items": [], "total": 3}`, nil, utils.CodeNoItemsFound, http.StatusBadRequest},
		{"garbage", `I could not read that`, nil, utils.CodeAIResponseError, http.StatusInternalServerError},
		{"provider down", "", &analyzer.APIError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}, utils.CodeAIServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.reply)
			f.model.err = tc.err

			_, err := f.svc.ExtractReceiptDetails(context.Background(), upload("bad-1"))
			appErr := appErrorOf(t, err)
			if appErr.Code != tc.code || appErr.StatusCode != tc.status {
				t.Errorf("code=%s status=%d, want %s %d", appErr.Code, appErr.StatusCode, tc.code, tc.status)
			}
			if appErr.ExtractionID != "bad-1" {
				t.Errorf("extraction_id = %q", appErr.ExtractionID)
			}
			if _, ok := appErr.Details["attempts"]; !ok {
				t.Errorf("details = %v", appErr.Details)
			}
			if len(f.repo.saved) != 0 {
				t.Error("failed extractions must not be persisted")
			}
		})
	}
}

func TestExtractRejectsBadUploads(t *testing.T) {
	f := newFixture(t, groceryJSON)

	req := upload("ok")
	req.Filename = "receipt.gif"
	req.ContentType = "image/gif"
	if appErr := appErrorOf(t, mustFail(f.svc.ExtractReceiptDetails(context.Background(), req))); appErr.Code != utils.CodeValidation {
		t.Errorf("code = %s", appErr.Code)
	}

	req = upload("has space")
	if appErr := appErrorOf(t, mustFail(f.svc.ExtractReceiptDetails(context.Background(), req))); appErr.Code != utils.CodeValidation {
		t.Errorf("code = %s", appErr.Code)
	}
}

func mustFail(_ *models.ExtractionRecord, err error) error { return err }

func TestGetByExtractionID(t *testing.T) {
	f := newFixture(t, groceryJSON)
	if _, err := f.svc.ExtractReceiptDetails(context.Background(), upload("known")); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.GetByExtractionID(context.Background(), "known")
	if err != nil || rec.VendorName != "Grocery Store Inc." {
		t.Errorf("GetByExtractionID = %+v, %v", rec, err)
	}

	_, err = f.svc.GetByExtractionID(context.Background(), "unknown")
	appErr := appErrorOf(t, err)
	if appErr.Code != utils.CodeNotFound || appErr.ExtractionID != "unknown" {
		t.Errorf("got %+v", appErr)
	}
}

func TestListReceipts(t *testing.T) {
	f := newFixture(t, groceryJSON)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := f.svc.ExtractReceiptDetails(context.Background(), upload(id)); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.svc.ListReceipts(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("ListReceipts returned error: %v", err)
	}
	if len(page.Receipts) != 2 || page.Receipts[0].ExtractionID != "c" {
		t.Errorf("receipts = %+v", page.Receipts)
	}
	if page.Pagination.Total != 3 || page.Pagination.Limit != 2 {
		t.Errorf("pagination = %+v", page.Pagination)
	}

	_, err = f.svc.ListReceipts(context.Background(), 0, 0)
	if appErr := appErrorOf(t, err); appErr.Code != utils.CodeValidation {
		t.Errorf("code = %s", appErr.Code)
	}
}

func TestExportReceipts(t *testing.T) {
	f := newFixture(t, groceryJSON)
	if _, err := f.svc.ExtractReceiptDetails(context.Background(), upload("x")); err != nil {
		t.Fatal(err)
	}
	data, err := f.svc.ExportReceipts(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ExportReceipts returned error: %v", err)
	}
	// xlsx files are zip archives.
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Errorf("export does not look like an xlsx archive")
	}
}

func TestValidateReceipt(t *testing.T) {
	f := newFixture(t, groceryJSON)
	date := "2024-01-15"
	rec := &models.ExtractionRecord{
		Date:         &date,
		Currency:     "USD",
		VendorName:   "Grocery Store Inc.",
		ReceiptItems: []models.ReceiptItem{{ItemName: "Milk", ItemCost: decimal.RequireFromString("3.99"), Quantity: 1}},
		Subtotal:     decimal.NewNullDecimal(decimal.RequireFromString("3.99")),
		Tax:          decimal.RequireFromString("0.32"),
		Total:        decimal.NewNullDecimal(decimal.RequireFromString("4.31")),
	}

	res, err := f.svc.ValidateReceipt(context.Background(), rec)
	if err != nil {
		t.Fatalf("ValidateReceipt returned error: %v", err)
	}
	if !res.IsValid || len(res.Warnings) != 0 || res.Status != models.StatusSuccess {
		t.Errorf("consistent receipt: %+v", res)
	}
	if res.ConfidenceScore != extraction.ConfidenceClean {
		t.Errorf("confidence = %v", res.ConfidenceScore)
	}

	rec.Total = decimal.NewNullDecimal(decimal.RequireFromString("10.00"))
	res, err = f.svc.ValidateReceipt(context.Background(), rec)
	if err != nil {
		t.Fatalf("ValidateReceipt returned error: %v", err)
	}
	if res.IsValid || len(res.Warnings) != 1 || res.ConfidenceScore != extraction.ConfidenceInconsistent {
		t.Errorf("inconsistent receipt: %+v", res)
	}
	// One warning at 0.80 confidence still classifies as success.
	if res.Status != models.StatusSuccess {
		t.Errorf("status = %q, want success", res.Status)
	}
}

func TestValidateReceiptAppliesDefaults(t *testing.T) {
	f := newFixture(t, groceryJSON)

	// EUR prices include VAT; the single menu item covers the total.
	rec, err := validation.DecodeRecord([]byte(`{
		"vendor_name": "Café Lumière",
		"date": "2024-03-02",
		"currency": "EUR",
		"receipt_items": [{"item_name": "Menu", "item_cost": 10}],
		"subtotal": 5,
		"tax": 1.6,
		"total": 10
	}`))
	if err != nil {
		t.Fatalf("DecodeRecord returned error: %v", err)
	}
	res, err := f.svc.ValidateReceipt(context.Background(), rec)
	if err != nil {
		t.Fatalf("ValidateReceipt returned error: %v", err)
	}
	if !res.IsValid || len(res.Warnings) != 0 || res.ConfidenceScore != extraction.ConfidenceClean {
		t.Errorf("inclusive receipt with defaulted fields: %+v", res)
	}

	// A zero quantity built in code is treated as one.
	date := "2024-03-02"
	direct := &models.ExtractionRecord{
		Date:         &date,
		VendorName:   "Café Lumière",
		Currency:     "EUR",
		ReceiptItems: []models.ReceiptItem{{ItemName: "Menu", ItemCost: decimal.RequireFromString("10")}},
		Subtotal:     decimal.NewNullDecimal(decimal.RequireFromString("5")),
		Tax:          decimal.RequireFromString("1.6"),
		Total:        decimal.NewNullDecimal(decimal.RequireFromString("10")),
		TaxDetails:   models.TaxDetails{TaxInclusive: true},
	}
	res, err = f.svc.ValidateReceipt(context.Background(), direct)
	if err != nil {
		t.Fatalf("ValidateReceipt returned error: %v", err)
	}
	if len(res.Warnings) != 0 || res.ConfidenceScore != extraction.ConfidenceClean {
		t.Errorf("zero quantity: %+v", res)
	}
	if direct.ReceiptItems[0].Quantity != 0 {
		t.Error("ValidateReceipt must not modify its input")
	}
}

func TestOpenImage(t *testing.T) {
	f := newFixture(t, groceryJSON)
	if _, err := f.svc.ExtractReceiptDetails(context.Background(), upload("pic")); err != nil {
		t.Fatal(err)
	}

	data, err := f.svc.OpenImage(context.Background(), "pic.jpg")
	if err != nil || string(data) != "fake-jpeg-bytes" {
		t.Errorf("OpenImage = %q, %v", data, err)
	}
	if appErr := appErrorOf(t, mustFailBytes(f.svc.OpenImage(context.Background(), "missing.jpg"))); appErr.Code != utils.CodeNotFound {
		t.Errorf("code = %s", appErr.Code)
	}
	if appErr := appErrorOf(t, mustFailBytes(f.svc.OpenImage(context.Background(), "../etc.jpg"))); appErr.Code != utils.CodeValidation {
		t.Errorf("code = %s", appErr.Code)
	}
}

func mustFailBytes(_ []byte, err error) error { return err }

func TestHealth(t *testing.T) {
	f := newFixture(t, groceryJSON)

	h := f.svc.Health(context.Background())
	if h.Status != "healthy" || h.Services["database"] != "ok" || h.Services["ai_provider"] != "configured" {
		t.Errorf("health = %+v", h)
	}
	if h.Services["model"] != "stub-vision" {
		t.Errorf("model = %q", h.Services["model"])
	}

	f.repo.pingErr = errors.New("locked")
	f.model.configured = false
	h = f.svc.Health(context.Background())
	if h.Status != "degraded" || h.Services["database"] != "unavailable" || h.Services["ai_provider"] != "not_configured" {
		t.Errorf("health = %+v", h)
	}
}
