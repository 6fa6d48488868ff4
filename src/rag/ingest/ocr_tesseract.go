//go:build ocr

package ingest

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR extracts text from images via the tesseract engine.
// Build with: go build -tags=ocr ./...
type TesseractOCR struct{}

func NewImageTextExtractor() ImageTextExtractor {
	return TesseractOCR{}
}

func (TesseractOCR) ExtractText(_ context.Context, image []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImageFromBytes(image); err != nil {
		return "", err
	}
	return client.Text()
}
