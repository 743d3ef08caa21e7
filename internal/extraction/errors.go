package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/analyzer"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

// Parse failure reasons.
const (
	ReasonMalformed    = "malformed"
	ReasonMissingField = "missing required field"
	ReasonInvalidTotal = "invalid total"
)

// ParseError means the model answered but the answer could not be used.
type ParseError struct {
	Reason string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse model response: " + e.Reason
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotAReceiptError carries the model's own explanation of why the image was rejected.
type NotAReceiptError struct {
	Reason string
}

func (e *NotAReceiptError) Error() string {
	return "image is not a receipt: " + e.Reason
}

// ExtractionError is the terminal failure of the extraction pipeline.
type ExtractionError struct {
	Code     string
	Message  string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// newExtractionError classifies the last failure into the client-facing taxonomy.
func newExtractionError(err error, attempts int) *ExtractionError {
	out := &ExtractionError{Attempts: attempts, Err: err}

	var notReceipt *NotAReceiptError
	var parseErr *ParseError
	switch {
	case errors.As(err, &notReceipt):
		out.Code = utils.CodeNotAReceipt
		out.Message = "The uploaded image does not appear to be a receipt: " + notReceipt.Reason
	case errors.As(err, &parseErr) && parseErr.Field == fieldItems:
		out.Code = utils.CodeNoItemsFound
		out.Message = "No items could be extracted from the receipt"
	case errors.As(err, &parseErr), errors.Is(err, analyzer.ErrEmptyResponse):
		out.Code = utils.CodeAIResponseError
		out.Message = "The AI service returned a response that could not be processed"
	case analyzer.IsConfiguration(err):
		out.Code = utils.CodeConfiguration
		out.Message = "The AI service is not configured correctly"
	case errors.Is(err, context.Canceled):
		out.Code = utils.CodeExtractionFailed
		out.Message = "Receipt extraction was cancelled"
	case analyzer.IsUnavailable(err):
		out.Code = utils.CodeAIServiceUnavailable
		out.Message = "The AI service is temporarily unavailable, please try again later"
	default:
		out.Code = utils.CodeExtractionFailed
		out.Message = "Failed to extract receipt details"
	}
	return out
}
