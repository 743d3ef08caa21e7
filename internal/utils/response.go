package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError renders err as the error envelope. Anything that is not an
// *AppError becomes a 500 without leaking its message.
func WriteError(w http.ResponseWriter, err error) (int, error) {
	appErr := AsAppError(err)
	body := models.ErrorResponse{
		Success: false,
		Error: models.ErrorBody{
			Code:         appErr.Code,
			Message:      appErr.Message,
			ExtractionID: appErr.ExtractionID,
			Details:      appErr.Details,
			Timestamp:    time.Now().UTC(),
		},
	}
	return appErr.StatusCode, WriteJSON(w, appErr.StatusCode, body)
}

// AsAppError unwraps err to an *AppError, falling back to a generic internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.StatusCode == 0 {
			appErr.StatusCode = StatusForCode(appErr.Code)
		}
		return appErr
	}
	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    "Internal server error",
		Cause:      err,
	}
}
