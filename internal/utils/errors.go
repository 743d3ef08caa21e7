package utils

import (
	"fmt"
	"net/http"
)

// Client-facing error codes.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotAReceipt          = "NOT_A_RECEIPT"
	CodeNoItemsFound         = "NO_ITEMS_FOUND"
	CodeAIServiceUnavailable = "AI_SERVICE_UNAVAILABLE"
	CodeAIResponseError      = "AI_RESPONSE_ERROR"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeExtractionFailed     = "EXTRACTION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError carries everything the HTTP layer needs to render an error envelope.
type AppError struct {
	StatusCode   int
	Code         string
	Message      string
	ExtractionID string
	Details      map[string]any
	Cause        error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(statusCode int, code, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

func NewBadRequestError(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeValidation, message)
}

func NewNotFoundError(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternal, message)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(http.StatusTooManyRequests, CodeRateLimited, message)
}

// StatusForCode maps a pipeline error code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case CodeValidation, CodeNotAReceipt, CodeNoItemsFound:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAIServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
