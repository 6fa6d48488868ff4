//go:build !ocr

package ingest

// NewImageTextExtractor returns the no-op extractor in builds without the ocr
// tag, keeping ingestion free of the cgo tesseract dependency by default.
func NewImageTextExtractor() ImageTextExtractor {
	return NoopOCR{}
}
