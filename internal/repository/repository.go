package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/models"
)

// ErrDuplicateExtractionID is returned by Save when the extraction id is taken.
var ErrDuplicateExtractionID = errors.New("extraction id already exists")

type Repository interface {
	Save(ctx context.Context, rec *models.ExtractionRecord) (string, error)
	GetByExtractionID(ctx context.Context, extractionID string) (*models.ExtractionRecord, error)
	List(ctx context.Context, limit, offset int) ([]models.ExtractionRecord, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var receiptColumns = []string{
	"r.id AS id",
	"r.extraction_id AS extraction_id",
	"r.receipt_date AS receipt_date",
	"r.currency AS currency",
	"r.vendor_name AS vendor_name",
	"r.subtotal AS subtotal",
	"r.tax AS tax",
	"r.total AS total",
	"r.tax_details AS tax_details",
	"r.payment_method AS payment_method",
	"r.receipt_number AS receipt_number",
	"r.confidence_score AS confidence_score",
	"r.image_quality AS image_quality",
	"r.status AS status",
	"r.image_url AS image_url",
	"r.extracted_at AS extracted_at",
	"m.processing_time_ms AS processing_time_ms",
	"m.model_identifier AS model_identifier",
	"m.warnings AS warnings",
}

type receiptRow struct {
	ID               int64          `db:"id"`
	ExtractionID     string         `db:"extraction_id"`
	ReceiptDate      sql.NullString `db:"receipt_date"`
	Currency         string         `db:"currency"`
	VendorName       string         `db:"vendor_name"`
	Subtotal         sql.NullString `db:"subtotal"`
	Tax              string         `db:"tax"`
	Total            sql.NullString `db:"total"`
	TaxDetails       string         `db:"tax_details"`
	PaymentMethod    string         `db:"payment_method"`
	ReceiptNumber    string         `db:"receipt_number"`
	ConfidenceScore  float64        `db:"confidence_score"`
	ImageQuality     sql.NullString `db:"image_quality"`
	Status           string         `db:"status"`
	ImageURL         string         `db:"image_url"`
	ExtractedAt      string         `db:"extracted_at"`
	ProcessingTimeMs sql.NullInt64  `db:"processing_time_ms"`
	ModelIdentifier  sql.NullString `db:"model_identifier"`
	Warnings         sql.NullString `db:"warnings"`
}

type itemRow struct {
	ReceiptID    int64  `db:"receipt_id"`
	Position     int    `db:"position"`
	ItemName     string `db:"item_name"`
	ItemCost     string `db:"item_cost"`
	Quantity     int    `db:"quantity"`
	OriginalName string `db:"original_name"`
}

// Save inserts the receipt, its items and its metadata in one transaction and
// returns the new row id. Nothing is written if any insert fails.
func (r *repository) Save(ctx context.Context, rec *models.ExtractionRecord) (string, error) {
	taxDetails, err := json.Marshal(rec.TaxDetails)
	if err != nil {
		return "", fmt.Errorf("encode tax details: %w", err)
	}
	var imageQuality any
	if rec.ImageQuality != nil {
		b, err := json.Marshal(rec.ImageQuality)
		if err != nil {
			return "", fmt.Errorf("encode image quality: %w", err)
		}
		imageQuality = string(b)
	}

	var receiptID int64
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psq.Insert("receipts").
			Columns("extraction_id", "receipt_date", "currency", "vendor_name", "subtotal", "tax", "total",
				"tax_details", "payment_method", "receipt_number", "confidence_score", "image_quality",
				"status", "image_url", "extracted_at").
			Values(rec.ExtractionID, nullableString(rec.Date), rec.Currency, rec.VendorName,
				nullableDecimal(rec.Subtotal), rec.Tax.String(), nullableDecimal(rec.Total),
				string(taxDetails), rec.PaymentMethod, rec.ReceiptNumber, rec.ConfidenceScore, imageQuality,
				string(rec.Status), rec.ImageURL, rec.ExtractedAt.UTC().Format(time.RFC3339Nano)).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateExtractionID, rec.ExtractionID)
			}
			return fmt.Errorf("insert receipt: %w", err)
		}
		if receiptID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("read receipt id: %w", err)
		}

		if len(rec.ReceiptItems) > 0 {
			items := psq.Insert("receipt_items").
				Columns("receipt_id", "position", "item_name", "item_cost", "quantity", "original_name")
			for i, item := range rec.ReceiptItems {
				items = items.Values(receiptID, i, item.ItemName, item.ItemCost.String(), item.Quantity, item.OriginalName)
			}
			query, args, err := items.ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert receipt items: %w", err)
			}
		}

		if md := rec.ExtractionMetadata; md != nil {
			warnings, err := json.Marshal(nonNilStrings(md.Warnings))
			if err != nil {
				return fmt.Errorf("encode warnings: %w", err)
			}
			query, args, err := psq.Insert("extraction_metadata").
				Columns("receipt_id", "processing_time_ms", "model_identifier", "warnings").
				Values(receiptID, md.ProcessingTimeMs, md.ModelIdentifier, string(warnings)).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert extraction metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(receiptID, 10), nil
}

func (r *repository) GetByExtractionID(ctx context.Context, extractionID string) (*models.ExtractionRecord, error) {
	query, args, err := selectReceipts().Where(sq.Eq{"r.extraction_id": extractionID}).ToSql()
	if err != nil {
		return nil, err
	}

	var row receiptRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", extractionID, err)
	}

	records, err := r.hydrate(ctx, []receiptRow{row})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

// List returns a page of receipts, newest first.
func (r *repository) List(ctx context.Context, limit, offset int) ([]models.ExtractionRecord, error) {
	query, args, err := selectReceipts().
		OrderBy("r.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []receiptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return r.hydrate(ctx, rows)
}

func (r *repository) Count(ctx context.Context) (int64, error) {
	query, args, err := psq.Select("COUNT(*)").From("receipts").ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

func (r *repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func selectReceipts() sq.SelectBuilder {
	return psq.Select(receiptColumns...).
		From("receipts r").
		LeftJoin("extraction_metadata m ON m.receipt_id = r.id")
}

// hydrate converts rows to records and attaches their items.
func (r *repository) hydrate(ctx context.Context, rows []receiptRow) ([]models.ExtractionRecord, error) {
	records := make([]models.ExtractionRecord, 0, len(rows))
	if len(rows) == 0 {
		return records, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err := psq.Select("receipt_id", "position", "item_name", "item_cost", "quantity", "original_name").
		From("receipt_items").
		Where(sq.Eq{"receipt_id": ids}).
		OrderBy("receipt_id", "position").
		ToSql()
	if err != nil {
		return nil, err
	}
	var items []itemRow
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("load receipt items: %w", err)
	}
	byReceipt := make(map[int64][]models.ReceiptItem, len(rows))
	for _, it := range items {
		cost, err := decimal.NewFromString(it.ItemCost)
		if err != nil {
			return nil, fmt.Errorf("decode item cost %q: %w", it.ItemCost, err)
		}
		byReceipt[it.ReceiptID] = append(byReceipt[it.ReceiptID], models.ReceiptItem{
			ItemName:     it.ItemName,
			ItemCost:     cost,
			Quantity:     it.Quantity,
			OriginalName: it.OriginalName,
		})
	}

	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, fmt.Errorf("decode receipt %s: %w", row.ExtractionID, err)
		}
		rec.ReceiptItems = byReceipt[row.ID]
		if rec.ReceiptItems == nil {
			rec.ReceiptItems = []models.ReceiptItem{}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (row receiptRow) toRecord() (models.ExtractionRecord, error) {
	rec := models.ExtractionRecord{
		ExtractionID:    row.ExtractionID,
		Currency:        row.Currency,
		VendorName:      row.VendorName,
		PaymentMethod:   row.PaymentMethod,
		ReceiptNumber:   row.ReceiptNumber,
		ConfidenceScore: row.ConfidenceScore,
		Status:          models.ExtractionStatus(row.Status),
		ImageURL:        row.ImageURL,
	}
	if row.ReceiptDate.Valid {
		d := row.ReceiptDate.String
		rec.Date = &d
	}

	var err error
	if rec.Subtotal, err = parseNullDecimal(row.Subtotal); err != nil {
		return rec, err
	}
	if rec.Total, err = parseNullDecimal(row.Total); err != nil {
		return rec, err
	}
	if rec.Tax, err = decimal.NewFromString(row.Tax); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(row.TaxDetails), &rec.TaxDetails); err != nil {
		return rec, err
	}
	if rec.TaxDetails.AdditionalTaxes == nil {
		rec.TaxDetails.AdditionalTaxes = []models.AdditionalTax{}
	}
	if row.ImageQuality.Valid && row.ImageQuality.String != "" {
		rec.ImageQuality = &models.ImageQuality{}
		if err := json.Unmarshal([]byte(row.ImageQuality.String), rec.ImageQuality); err != nil {
			return rec, err
		}
	}
	if rec.ExtractedAt, err = time.Parse(time.RFC3339Nano, row.ExtractedAt); err != nil {
		return rec, err
	}

	if row.ProcessingTimeMs.Valid {
		md := &models.ExtractionMetadata{
			ProcessingTimeMs: row.ProcessingTimeMs.Int64,
			ModelIdentifier:  row.ModelIdentifier.String,
			Warnings:         []string{},
		}
		if row.Warnings.Valid && row.Warnings.String != "" {
			if err := json.Unmarshal([]byte(row.Warnings.String), &md.Warnings); err != nil {
				return rec, err
			}
		}
		rec.ExtractionMetadata = md
	}
	return rec, nil
}

func (r *repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
