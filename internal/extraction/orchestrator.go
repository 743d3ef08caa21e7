package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/analyzer"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

// RetryPolicy bounds the model call loop. Backoff doubles after every failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// maxBackoff caps a single pause between attempts.
const maxBackoff = time.Minute

// Backoff is the pause after the given failed attempt: base, 2*base, 4*base...
// capped at maxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay <<= 1
	}
	return min(delay, maxBackoff)
}

// ShouldRetry decides whether a failed attempt gets another try.
func ShouldRetry(err error, attempt, maxAttempts int) bool {
	if err == nil || attempt >= maxAttempts {
		return false
	}
	var notReceipt *NotAReceiptError
	switch {
	case errors.As(err, &notReceipt):
		return false
	case analyzer.IsConfiguration(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

type attemptState int

const (
	stateAttempting attemptState = iota
	stateSucceeded
	stateRetryable
	stateTerminal
)

type Options struct {
	Policy          RetryPolicy
	Temperature     float32
	MaxOutputTokens int32
}

// Result is a successful extraction. Warnings are already merged and the
// same list is carried in Metadata.
type Result struct {
	Record   *models.ExtractionRecord
	Warnings []string
	Metadata models.ExtractionMetadata
	Attempts int
}

// Extractor runs the call, parse and repair loop against a model gateway.
type Extractor struct {
	analyzer analyzer.Analyzer
	opts     Options
	logger   *utils.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewExtractor(a analyzer.Analyzer, opts Options, logger *utils.Logger) *Extractor {
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Extractor{
		analyzer: a,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// ModelName reports the identifier of the underlying model.
func (e *Extractor) ModelName() string {
	return e.analyzer.ModelName()
}

// Extract returns a canonical record for the image or an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string) (*Result, error) {
	start := e.now()
	maxAttempts := e.opts.Policy.MaxAttempts

	var (
		attempt int
		rec     *models.ExtractionRecord
		lastErr error
	)
	state := stateAttempting
	for {
		switch state {
		case stateAttempting:
			attempt++
			rec, lastErr = e.attempt(ctx, image, mimeType)
			switch {
			case lastErr == nil:
				state = stateSucceeded
			case ctx.Err() == nil && ShouldRetry(lastErr, attempt, maxAttempts):
				state = stateRetryable
			default:
				state = stateTerminal
			}

		case stateRetryable:
			delay := e.opts.Policy.Backoff(attempt)
			e.logger.Warn("Extraction attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"backoff_ms", delay.Milliseconds(),
				"error", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				state = stateTerminal
				continue
			}
			state = stateAttempting

		case stateSucceeded:
			warnings := MergeWarnings(imageQualityWarnings(rec), Validate(rec))
			elapsed := e.now().Sub(start)
			e.logger.Info("Receipt extracted",
				"attempts", attempt,
				"vendor", rec.VendorName,
				"confidence", rec.ConfidenceScore,
				"warnings", len(warnings),
				"elapsed_ms", elapsed.Milliseconds())
			return &Result{
				Record:   rec,
				Warnings: warnings,
				Metadata: models.ExtractionMetadata{
					ProcessingTimeMs: elapsed.Milliseconds(),
					ModelIdentifier:  e.analyzer.ModelName(),
					Warnings:         warnings,
				},
				Attempts: attempt,
			}, nil

		case stateTerminal:
			extErr := newExtractionError(lastErr, attempt)
			e.logger.Error("Receipt extraction failed",
				"attempts", attempt,
				"code", extErr.Code,
				"error", lastErr)
			return nil, extErr
		}
	}
}

func (e *Extractor) attempt(ctx context.Context, image []byte, mimeType string) (*models.ExtractionRecord, error) {
	text, err := e.analyzer.Complete(ctx, analyzer.Request{
		Instruction:     ReceiptInstruction,
		Image:           image,
		MIMEType:        mimeType,
		Temperature:     e.opts.Temperature,
		MaxOutputTokens: e.opts.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	raw, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Repair(raw), nil
}

func imageQualityWarnings(rec *models.ExtractionRecord) []string {
	if !rec.HasPoorImageQuality() {
		return nil
	}
	if len(rec.ImageQuality.Issues) == 0 {
		return []string{"Image quality is poor; extracted values may be inaccurate"}
	}
	out := make([]string, 0, len(rec.ImageQuality.Issues))
	for _, issue := range rec.ImageQuality.Issues {
		out = append(out, "Image quality issue: "+issue)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
