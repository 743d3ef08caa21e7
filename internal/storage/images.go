package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"regexp"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

const (
	MaxImageDimension = 2048
	JPEGQuality       = 85

	// ImageRoutePrefix is the public path images are served from.
	ImageRoutePrefix = "/storage/images/"
	imageKeyPrefix   = "receipts/"
	imageContentType = "image/jpeg"
)

var ErrInvalidFilename = errors.New("invalid image filename")

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}\.jpg$`)

// ImageStore keeps re-encoded receipt photos in object storage.
type ImageStore struct {
	storage       Storage
	publicBaseURL string
	logger        *utils.Logger
}

func NewImageStore(s Storage, publicBaseURL string, logger *utils.Logger) *ImageStore {
	return &ImageStore{
		storage:       s,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

// Save normalizes the image, stores it under the extraction id and returns its URL.
func (s *ImageStore) Save(ctx context.Context, data []byte, id string) (string, error) {
	filename := id + ".jpg"
	if !filenamePattern.MatchString(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	encoded, err := Normalize(data)
	if err != nil {
		return "", err
	}
	if err := s.storage.Upload(ctx, imageKeyPrefix+filename, encoded, imageContentType); err != nil {
		return "", err
	}

	s.logger.Debug("Receipt image stored",
		"extraction_id", id,
		"original_bytes", len(data),
		"stored_bytes", len(encoded))
	return s.URL(filename), nil
}

// Open returns the stored JPEG for a filename of the form <id>.jpg.
func (s *ImageStore) Open(ctx context.Context, filename string) ([]byte, error) {
	if !filenamePattern.MatchString(filename) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return s.storage.Download(ctx, imageKeyPrefix+filename)
}

func (s *ImageStore) URL(filename string) string {
	return s.publicBaseURL + ImageRoutePrefix + filename
}

func (s *ImageStore) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Normalize decodes a JPEG, PNG or WebP image, shrinks it to fit within
// MaxImageDimension on both sides and re-encodes it as JPEG. Transparent
// pixels are flattened onto white.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), MaxImageDimension)
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(canvas, canvas.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(canvas, canvas.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales w×h down, never up, so neither side exceeds limit.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	scale := float64(limit) / float64(w)
	if hs := float64(limit) / float64(h); hs < scale {
		scale = hs
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
