package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

const (
	MaxCustomIDLength = 100
	DefaultPageLimit  = 20
	MaxPageLimit      = 100
)

var allowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

var customIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateImageFile checks an upload against the accepted types and size bounds.
func ValidateImageFile(filename, contentType string, size, maxSize int64) error {
	if size <= 0 {
		return utils.NewBadRequestError("Uploaded file is empty")
	}
	if size > maxSize {
		return withDetails(utils.NewBadRequestError(
			fmt.Sprintf("File size %s exceeds the %s limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxSize)))),
			"max_file_size", maxSize)
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if _, ok := allowedMIMETypes[mediaType]; !ok {
		return withDetails(utils.NewBadRequestError(
			fmt.Sprintf("Unsupported file type %q; upload a JPEG, PNG or WebP image", contentType)),
			"allowed_types", sortedKeys(allowedMIMETypes))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return withDetails(utils.NewBadRequestError(
			fmt.Sprintf("Unsupported file extension %q", ext)),
			"allowed_extensions", sortedKeys(allowedExtensions))
	}
	return nil
}

// ValidateCustomID accepts 1-100 characters of letters, digits, '-' and '_'.
func ValidateCustomID(id string) error {
	if id == "" || len(id) > MaxCustomIDLength || !customIDPattern.MatchString(id) {
		return utils.NewBadRequestError(fmt.Sprintf(
			"customId must be 1-%d characters of letters, digits, '-' or '_'", MaxCustomIDLength))
	}
	return nil
}

// ValidatePagination rejects limits outside 1..100 and negative offsets.
func ValidatePagination(limit, offset int) error {
	if limit < 1 || limit > MaxPageLimit {
		return utils.NewBadRequestError(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	if offset < 0 {
		return utils.NewBadRequestError("offset must not be negative")
	}
	return nil
}

func withDetails(err *utils.AppError, key string, value any) *utils.AppError {
	if err.Details == nil {
		err.Details = map[string]any{}
	}
	err.Details[key] = value
	return err
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
