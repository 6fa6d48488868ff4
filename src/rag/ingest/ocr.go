package ingest

import "context"

// ImageTextExtractor pulls text out of an embedded image. Implementations may
// be unavailable at runtime; ingestion treats extraction failures as
// best-effort and keeps going.
type ImageTextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// NoopOCR is the null extractor used when no OCR engine is wired in.
type NoopOCR struct{}

func (NoopOCR) ExtractText(context.Context, []byte) (string, error) {
	return "", nil
}
