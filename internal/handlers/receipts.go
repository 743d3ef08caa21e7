package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/export"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/services"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

const (
	// multipartOverhead is the room left for form fields and boundaries on top
	// of the image itself.
	multipartOverhead   = 1 << 20
	maxValidateBodySize = 1 << 20
)

// Form field names; camelCase first, snake_case aliases after.
var (
	imageFields           = []string{"image", "file"}
	customIDFields        = []string{"customId", "custom_id"}
	saveImageFields       = []string{"saveImage", "save_image"}
	includeMetadataFields = []string{"includeMetadata", "include_metadata"}
)

type ReceiptHandler struct {
	service     services.ReceiptService
	logger      *utils.Logger
	maxFileSize int64
}

func NewReceiptHandler(service services.ReceiptService, logger *utils.Logger, maxFileSize int64) *ReceiptHandler {
	return &ReceiptHandler{
		service:     service,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

func (h *ReceiptHandler) ExtractReceiptDetails(w http.ResponseWriter, r *http.Request) {
	limit := h.maxFileSize + multipartOverhead
	if r.ContentLength > limit {
		h.respondError(w, h.tooLarge())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.respondError(w, h.tooLarge())
			return
		}
		h.respondError(w, utils.NewBadRequestError("Request must be multipart/form-data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r, imageFields...)
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("No image file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("Failed to read uploaded image"))
		return
	}

	saveImage, err := formBool(r, true, saveImageFields...)
	if err != nil {
		h.respondError(w, err)
		return
	}
	includeMetadata, err := formBool(r, false, includeMetadataFields...)
	if err != nil {
		h.respondError(w, err)
		return
	}

	contentType := determineContentType(header.Filename, header.Header.Get("Content-Type"))
	h.logger.Debug("Receipt upload received",
		"filename", header.Filename,
		"reported_content_type", header.Header.Get("Content-Type"),
		"determined_content_type", contentType,
		"size", len(data))

	req := &models.ExtractRequest{
		Image:           data,
		Filename:        header.Filename,
		ContentType:     contentType,
		CustomID:        strings.TrimSpace(formValue(r, customIDFields...)),
		SaveImage:       saveImage,
		IncludeMetadata: includeMetadata,
	}

	rec, err := h.service.ExtractReceiptDetails(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

func (h *ReceiptHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Extraction ID is required"))
		return
	}

	rec, err := h.service.GetByExtractionID(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

func (h *ReceiptHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.ListReceipts(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ReceiptHandler) ExportReceipts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	data, err := h.service.ExportReceipts(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}

	filename := fmt.Sprintf("receipts-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write export", "error", err)
	}
}

func (h *ReceiptHandler) ValidateReceipt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValidateBodySize))
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("Request body is too large"))
		return
	}

	rec, err := validation.DecodeRecord(body)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := h.service.ValidateReceipt(r.Context(), rec)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *ReceiptHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.Health(r.Context()))
}

func (h *ReceiptHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.OpenImage(r.Context(), mux.Vars(r)["filename"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write image", "error", err)
	}
}

func (h *ReceiptHandler) tooLarge() error {
	return utils.NewBadRequestError(fmt.Sprintf("File size exceeds %s limit", humanize.IBytes(uint64(h.maxFileSize))))
}

func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, name := range names {
		file, header, err := r.FormFile(name)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

func formValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.FormValue(name); v != "" {
			return v
		}
	}
	return ""
}

func formBool(r *http.Request, fallback bool, names ...string) (bool, error) {
	raw := strings.TrimSpace(formValue(r, names...))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		appErr := utils.NewBadRequestError(fmt.Sprintf("%s must be true or false", names[0]))
		appErr.Details = map[string]any{"field": names[0], "value": raw}
		return false, appErr
	}
	return v, nil
}

func parsePagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), validation.DefaultPageLimit, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(q.Get("offset"), 0, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(raw string, fallback int, name string) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		appErr := utils.NewBadRequestError(fmt.Sprintf("%s must be an integer", name))
		appErr.Details = map[string]any{"field": name, "value": raw}
		return 0, appErr
	}
	return v, nil
}

// determineContentType prefers the file extension over the reported header,
// which browsers often leave empty or set to application/octet-stream.
func determineContentType(filename, headerContentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return headerContentType
}

func (h *ReceiptHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	if err := utils.WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *ReceiptHandler) respondError(w http.ResponseWriter, err error) {
	appErr := utils.AsAppError(err)
	attrs := []any{
		"status", appErr.StatusCode,
		"code", appErr.Code,
		"error", err,
	}
	if appErr.ExtractionID != "" {
		attrs = append(attrs, "extraction_id", appErr.ExtractionID)
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error("Request error", attrs...)
	} else {
		h.logger.Warn("Request error", attrs...)
	}

	if _, werr := utils.WriteError(w, appErr); werr != nil {
		h.logger.Error("Failed to encode error response", "error", werr)
	}
}
