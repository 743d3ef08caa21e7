package extraction

import (
	"strings"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

const (
	maxWarningsForSuccess = 2
	minSuccessConfidence  = 0.7
)

// Classify maps a record and its warnings to an outcome. First matching rule wins.
func Classify(rec *models.ExtractionRecord, warnings []string) models.ExtractionStatus {
	if rec == nil ||
		strings.TrimSpace(rec.VendorName) == "" ||
		!rec.Total.Valid || rec.Total.Decimal.IsZero() ||
		len(rec.ReceiptItems) == 0 {
		return models.StatusFailed
	}
	if len(warnings) > maxWarningsForSuccess || rec.ConfidenceScore < minSuccessConfidence {
		return models.StatusPartial
	}
	return models.StatusSuccess
}
