package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/analyzer"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/export"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/extraction"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/repository"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/storage"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/validation"
)

type ReceiptService interface {
	ExtractReceiptDetails(ctx context.Context, req *models.ExtractRequest) (*models.ExtractionRecord, error)
	GetByExtractionID(ctx context.Context, id string) (*models.ExtractionRecord, error)
	ListReceipts(ctx context.Context, limit, offset int) (*models.ReceiptListResponse, error)
	ValidateReceipt(ctx context.Context, rec *models.ExtractionRecord) (*models.ValidationResponse, error)
	ExportReceipts(ctx context.Context, limit, offset int) ([]byte, error)
	OpenImage(ctx context.Context, filename string) ([]byte, error)
	Health(ctx context.Context) *models.HealthResponse
}

// ImageStore persists the uploaded photo and serves it back.
type ImageStore interface {
	Save(ctx context.Context, data []byte, id string) (string, error)
	Open(ctx context.Context, filename string) ([]byte, error)
	Ping(ctx context.Context) error
}

// Extractor turns image bytes into a canonical record.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*extraction.Result, error)
}

type Deps struct {
	Repo      repository.Repository
	Images    ImageStore // nil when object storage is unavailable
	Extractor Extractor
	Analyzer  analyzer.Analyzer

	MaxFileSize    int64
	PersistTimeout time.Duration
	Logger         *utils.Logger
}

type receiptService struct {
	repo      repository.Repository
	images    ImageStore
	extractor Extractor
	analyzer  analyzer.Analyzer

	maxFileSize    int64
	persistTimeout time.Duration
	logger         *utils.Logger
	now            func() time.Time
}

func NewService(deps Deps) ReceiptService {
	if deps.Logger == nil {
		deps.Logger = utils.NopLogger()
	}
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = 10 * time.Second
	}
	return &receiptService{
		repo:           deps.Repo,
		images:         deps.Images,
		extractor:      deps.Extractor,
		analyzer:       deps.Analyzer,
		maxFileSize:    deps.MaxFileSize,
		persistTimeout: deps.PersistTimeout,
		logger:         deps.Logger,
		now:            time.Now,
	}
}

// outcome is the result of a best-effort side effect. Callers log err and
// carry on.
type outcome[T any] struct {
	value T
	err   error
}

var errImagesUnavailable = errors.New("image storage is not configured")

// ExtractReceiptDetails runs the whole pipeline for one upload. Image storage
// and persistence failures are logged and never change the response.
func (s *receiptService) ExtractReceiptDetails(ctx context.Context, req *models.ExtractRequest) (*models.ExtractionRecord, error) {
	start := s.now()

	if err := validation.ValidateImageFile(req.Filename, req.ContentType, int64(len(req.Image)), s.maxFileSize); err != nil {
		s.logger.Warn("Rejected upload", "filename", req.Filename, "content_type", req.ContentType, "size", len(req.Image))
		return nil, err
	}

	id := req.CustomID
	if id != "" {
		if err := validation.ValidateCustomID(id); err != nil {
			return nil, err
		}
	} else {
		id = utils.GenerateID()
	}
	logger := s.logger.With("extraction_id", id)

	var imageURL string
	if req.SaveImage {
		saved := s.saveImage(ctx, req.Image, id)
		if saved.err != nil {
			logger.Warn("Failed to store receipt image, continuing without image_url", "error", saved.err)
		} else {
			imageURL = saved.value
		}
	}

	logger.Info("Starting receipt extraction", "filename", req.Filename, "size", len(req.Image))
	res, err := s.extractor.Extract(ctx, req.Image, req.ContentType)
	if err != nil {
		return nil, s.extractionFailure(err, id, start)
	}

	rec := res.Record
	warnings := extraction.MergeWarnings(res.Warnings, extraction.Validate(rec))
	rec.ExtractionID = id
	rec.ImageURL = imageURL
	rec.Status = extraction.Classify(rec, warnings)
	rec.ExtractedAt = s.now().UTC()

	metadata := res.Metadata
	metadata.Warnings = warnings
	if req.IncludeMetadata {
		md := metadata
		rec.ExtractionMetadata = &md
	}

	stored := rec.Clone()
	stored.ExtractionMetadata = &models.ExtractionMetadata{
		ProcessingTimeMs: metadata.ProcessingTimeMs,
		ModelIdentifier:  metadata.ModelIdentifier,
		Warnings:         append([]string{}, warnings...),
	}
	if saved := s.persist(ctx, stored); saved.err != nil {
		logger.Error("Failed to persist extraction, returning response anyway", "error", saved.err)
	} else {
		logger.Debug("Extraction persisted", "row_id", saved.value)
	}

	logger.Info("Receipt extraction completed",
		"status", rec.Status,
		"confidence", rec.ConfidenceScore,
		"warnings", len(warnings),
		"elapsed_ms", s.now().Sub(start).Milliseconds())
	return rec, nil
}

func (s *receiptService) saveImage(ctx context.Context, data []byte, id string) outcome[string] {
	if s.images == nil {
		return outcome[string]{err: errImagesUnavailable}
	}
	url, err := s.images.Save(ctx, data, id)
	return outcome[string]{value: url, err: err}
}

// persist runs detached from the request context so a client disconnect
// does not abort the write, bounded by persistTimeout.
func (s *receiptService) persist(ctx context.Context, rec *models.ExtractionRecord) outcome[string] {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	id, err := s.repo.Save(ctx, rec)
	return outcome[string]{value: id, err: err}
}

func (s *receiptService) extractionFailure(err error, id string, start time.Time) *utils.AppError {
	appErr := &utils.AppError{
		Code:         utils.CodeExtractionFailed,
		Message:      "Failed to extract receipt details",
		ExtractionID: id,
		Cause:        err,
		Details: map[string]any{
			"processing_time_ms": s.now().Sub(start).Milliseconds(),
		},
	}
	var extErr *extraction.ExtractionError
	if errors.As(err, &extErr) {
		appErr.Code = extErr.Code
		appErr.Message = extErr.Message
		appErr.Details["attempts"] = extErr.Attempts
	}
	appErr.StatusCode = utils.StatusForCode(appErr.Code)

	s.logger.Error("Receipt extraction failed",
		"extraction_id", id,
		"code", appErr.Code,
		"error", err)
	return appErr
}

func (s *receiptService) GetByExtractionID(ctx context.Context, id string) (*models.ExtractionRecord, error) {
	rec, err := s.repo.GetByExtractionID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get receipt", "error", err, "extraction_id", id)
		return nil, utils.NewInternalError("Failed to retrieve receipt")
	}
	if rec == nil {
		appErr := utils.NewNotFoundError("Receipt not found")
		appErr.ExtractionID = id
		return nil, appErr
	}
	return rec, nil
}

func (s *receiptService) ListReceipts(ctx context.Context, limit, offset int) (*models.ReceiptListResponse, error) {
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, err
	}

	records, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list receipts", "error", err)
		return nil, utils.NewInternalError("Failed to list receipts")
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.Error("Failed to count receipts", "error", err)
		return nil, utils.NewInternalError("Failed to list receipts")
	}

	return &models.ReceiptListResponse{
		Receipts: records,
		Pagination: models.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	}, nil
}

// ValidateReceipt runs the consistency checks on a caller-supplied record.
// Confidence is recomputed from the record rather than trusted.
func (s *receiptService) ValidateReceipt(_ context.Context, rec *models.ExtractionRecord) (*models.ValidationResponse, error) {
	if rec == nil {
		return nil, utils.NewBadRequestError("Receipt data is required")
	}
	// Submitted records get the same defaulting as model output: quantity
	// of at least 1, resolved currency, derived subtotal, fresh confidence.
	candidate := extraction.Repair(extraction.RawFromRecord(rec))
	warnings := extraction.Validate(candidate)

	return &models.ValidationResponse{
		IsValid:         len(warnings) == 0,
		Warnings:        warnings,
		Status:          extraction.Classify(candidate, warnings),
		ConfidenceScore: candidate.ConfidenceScore,
	}, nil
}

func (s *receiptService) ExportReceipts(ctx context.Context, limit, offset int) ([]byte, error) {
	if err := validation.ValidatePagination(limit, offset); err != nil {
		return nil, err
	}
	records, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("Failed to load receipts for export", "error", err)
		return nil, utils.NewInternalError("Failed to export receipts")
	}
	data, err := export.WriteXLSX(records)
	if err != nil {
		s.logger.Error("Failed to render export", "error", err)
		return nil, utils.NewInternalError("Failed to export receipts")
	}
	s.logger.Info("Receipts exported", "rows", len(records), "bytes", len(data))
	return data, nil
}

func (s *receiptService) OpenImage(ctx context.Context, filename string) ([]byte, error) {
	if s.images == nil {
		return nil, utils.NewAppError(http.StatusServiceUnavailable, utils.CodeInternal, "Image storage is not available")
	}
	data, err := s.images.Open(ctx, filename)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, storage.ErrInvalidFilename):
		return nil, utils.NewBadRequestError("Invalid image filename")
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, utils.NewNotFoundError("Image not found")
	default:
		s.logger.Error("Failed to read image", "error", err, "filename", filename)
		return nil, utils.NewInternalError("Failed to read image")
	}
}

const (
	serviceOK            = "ok"
	serviceUnavailable   = "unavailable"
	serviceConfigured    = "configured"
	serviceNotConfigured = "not_configured"
)

func (s *receiptService) Health(ctx context.Context) *models.HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	services := map[string]string{
		"database":    serviceOK,
		"storage":     serviceOK,
		"ai_provider": serviceConfigured,
		"model":       "",
	}
	status := "healthy"

	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn("Database health check failed", "error", err)
		services["database"] = serviceUnavailable
		status = "degraded"
	}
	switch {
	case s.images == nil:
		services["storage"] = serviceNotConfigured
	case s.images.Ping(ctx) != nil:
		services["storage"] = serviceUnavailable
	}
	if s.analyzer != nil {
		services["model"] = s.analyzer.ModelName()
		if !s.analyzer.Configured() {
			services["ai_provider"] = serviceNotConfigured
			status = "degraded"
		}
	} else {
		services["ai_provider"] = serviceNotConfigured
		status = "degraded"
	}

	return &models.HealthResponse{
		Status:    status,
		Timestamp: s.now().UTC(),
		Services:  services,
	}
}
