package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/fumiama/go-docx"
)

// parseDOCX extracts paragraph and table text in document order, and collects
// embedded media images for the OCR path.
func parseDOCX(data []byte) (Parsed, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Parsed{}, fmt.Errorf("parse docx: %w", err)
	}

	var blocks []string
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			if s := strings.TrimSpace(it.String()); s != "" {
				blocks = append(blocks, s)
			}
		case *docx.Table:
			if s := strings.TrimSpace(it.String()); s != "" {
				blocks = append(blocks, s)
			}
		}
	}
	return Parsed{Blocks: blocks, Images: docxMediaImages(data)}, nil
}

// docxMediaImages pulls word/media/* entries out of the docx archive.
func docxMediaImages(data []byte) [][]byte {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	var images [][]byte
	for _, f := range zr.File {
		if len(images) >= maxEmbeddedImages {
			break
		}
		if !strings.HasPrefix(f.Name, "word/media/") {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		default:
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		img, err := io.ReadAll(io.LimitReader(rc, maxEmbeddedImageSize))
		rc.Close()
		if err != nil || len(img) == 0 {
			continue
		}
		images = append(images, img)
	}
	return images
}
