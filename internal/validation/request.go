package validation

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/extraction"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

const amountType = `{"type": ["number", "string", "null"]}`

const receiptSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "extraction_id": {"type": "string"},
    "date": {"type": ["string", "null"]},
    "currency": {"type": "string"},
    "vendor_name": {"type": "string"},
    "receipt_items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item_name", "item_cost"],
        "properties": {
          "item_name": {"type": "string"},
          "item_cost": {"type": ["number", "string"]},
          "quantity": {"type": "integer", "minimum": 1},
          "original_name": {"type": "string"}
        }
      }
    },
    "subtotal": ` + amountType + `,
    "tax": ` + amountType + `,
    "total": ` + amountType + `,
    "tax_details": {
      "type": "object",
      "properties": {
        "tax_rate": {"type": ["string", "null"]},
        "tax_type": {"type": ["string", "null"]},
        "tax_inclusive": {"type": "boolean"},
        "additional_taxes": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "amount"],
            "properties": {
              "name": {"type": "string"},
              "amount": {"type": ["number", "string"]}
            }
          }
        }
      }
    },
    "payment_method": {"type": ["string", "null"]},
    "receipt_number": {"type": ["string", "null"]},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
    "image_quality": {
      "type": ["object", "null"],
      "properties": {
        "is_clear": {"type": "boolean"},
        "issues": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var compiledReceiptSchema = jsonschema.MustCompileString("receipt.json", receiptSchema)

// DecodeRecord validates a POST /validate body against the receipt schema and
// decodes it. Any failure is a VALIDATION_ERROR.
func DecodeRecord(body []byte) (*models.ExtractionRecord, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, utils.NewBadRequestError("Request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, utils.NewBadRequestError("Request body must be valid JSON")
	}
	if err := compiledReceiptSchema.Validate(doc); err != nil {
		appErr := utils.NewBadRequestError("Request body does not match the receipt schema")
		appErr.Details = map[string]any{"errors": schemaErrors(err)}
		return nil, appErr
	}

	var rec models.ExtractionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		appErr := utils.NewBadRequestError("Request body contains invalid values")
		appErr.Details = map[string]any{"errors": []string{err.Error()}}
		return nil, appErr
	}

	// tax_inclusive is optional; when absent it follows the currency.
	var sent struct {
		TaxDetails *struct {
			TaxInclusive *bool `json:"tax_inclusive"`
		} `json:"tax_details"`
	}
	if err := json.Unmarshal(body, &sent); err == nil && (sent.TaxDetails == nil || sent.TaxDetails.TaxInclusive == nil) {
		currency := extraction.ResolveCurrency(rec.Currency, rec.VendorName)
		rec.TaxDetails.TaxInclusive = extraction.IsTaxInclusiveByDefault(currency)
	}
	for i := range rec.ReceiptItems {
		if rec.ReceiptItems[i].Quantity < 1 {
			rec.ReceiptItems[i].Quantity = 1
		}
	}
	return &rec, nil
}

func schemaErrors(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
