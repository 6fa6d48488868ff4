package ingest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// parsePDF extracts per-page plain text, prefixed with the page number for
// retrieval context. Image-only or malformed pages are skipped, not fatal.
func parsePDF(data []byte) (Parsed, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Parsed{}, fmt.Errorf("parse pdf: %w", err)
	}

	n := rdr.NumPage()
	blocks := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(txt); s != "" {
			blocks = append(blocks, "Page "+strconv.Itoa(i)+"\n"+s)
		}
	}
	return Parsed{Blocks: blocks, Images: scanJPEGStreams(data)}, nil
}

const (
	maxEmbeddedImages    = 16
	maxEmbeddedImageSize = 8 << 20
)

// scanJPEGStreams finds DCTDecode-style JPEG streams by their SOI/EOI markers
// in the raw file bytes. Crude, but it needs no object-graph walk and feeds
// the OCR path, where a missed image only means a silently skipped block.
func scanJPEGStreams(data []byte) [][]byte {
	var (
		images [][]byte
		soi    = []byte{0xFF, 0xD8, 0xFF}
		eoi    = []byte{0xFF, 0xD9}
	)
	for off := 0; len(images) < maxEmbeddedImages; {
		start := bytes.Index(data[off:], soi)
		if start < 0 {
			break
		}
		start += off
		end := bytes.Index(data[start:], eoi)
		if end < 0 {
			break
		}
		end += start + len(eoi)
		if size := end - start; size > len(soi)+len(eoi) && size <= maxEmbeddedImageSize {
			img := make([]byte, end-start)
			copy(img, data[start:end])
			images = append(images, img)
		}
		off = end
	}
	return images
}
