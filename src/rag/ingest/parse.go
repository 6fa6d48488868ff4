package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Protocol-Lattice/ragd/src/concurrent"
)

// ErrUnsupportedType marks files whose extension no parser handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// Parsed is the intermediate form between raw bytes and chunking: text blocks
// in document order, plus any embedded images found along the way.
type Parsed struct {
	Blocks []string
	Images [][]byte
}

// parseFile dispatches on the filename extension. Supported: .csv, .pdf,
// .docx, plus plain-text extensions.
func parseFile(filename string, data []byte) (Parsed, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return parseCSV(data)
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".txt", ".md", ".text":
		return Parsed{Blocks: []string{normalizeText(string(data))}}, nil
	default:
		return Parsed{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}
}

func normalizeText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// ocrBlocks runs the extractor over every embedded image, a few at a time.
// Extraction is best-effort: a failing or empty image is skipped, never fatal.
func ocrBlocks(ctx context.Context, extractor ImageTextExtractor, images [][]byte) []string {
	if extractor == nil || len(images) == 0 {
		return nil
	}
	texts, errs := concurrent.Map(ctx, images, func(img []byte) (string, error) {
		return extractor.ExtractText(ctx, img)
	}, 4)

	var blocks []string
	for i, text := range texts {
		if errs[i] != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks
}
