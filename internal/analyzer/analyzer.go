package analyzer

import (
	"context"
	"net/http"
)

// Request is a single-turn multimodal prompt: instruction text plus one inlined image.
type Request struct {
	Instruction     string
	Image           []byte
	MIMEType        string
	Temperature     float32
	MaxOutputTokens int32
}

// Analyzer is the model gateway used by the extraction pipeline.
type Analyzer interface {
	Complete(ctx context.Context, req Request) (string, error)
	ModelName() string
	Configured() bool
}

// DetectMIMEType sniffs the image type, defaulting to JPEG.
func DetectMIMEType(data []byte, hint string) string {
	if hint != "" && hint != "application/octet-stream" {
		if hint == "image/jpg" {
			return "image/jpeg"
		}
		return hint
	}
	if len(data) > 0 {
		if mt := http.DetectContentType(data); mt != "application/octet-stream" {
			return mt
		}
	}
	return "image/jpeg"
}
