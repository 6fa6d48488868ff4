package ingest

import "strings"

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 120
)

// Chunker splits text into overlapping rune windows. Splitting on runes keeps
// multibyte text intact; byte slicing could cut a character in half.
type Chunker struct {
	Size    int
	Overlap int
}

// Split returns the chunks of text in order. Output is deterministic for a
// given input and configuration.
func (c Chunker) Split(text string) []string {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size, overlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
