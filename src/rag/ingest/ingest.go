package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

// ErrEmptyInput marks a file that parsed cleanly but yielded no text at all.
var ErrEmptyInput = errors.New("no extractable text")

const embedBatchSize = 32

// Pipeline turns uploaded files into embedded chunks in the document
// collection. Validation happens before the first embedding call, so
// unsupported or empty files cost nothing.
type Pipeline struct {
	Embedder   *embed.Client
	Store      store.VectorStore
	Collection string
	Chunker    Chunker
	OCR        ImageTextExtractor
}

// NewPipeline wires a pipeline with the default chunking window and no OCR.
func NewPipeline(embedder *embed.Client, st store.VectorStore, collection string) *Pipeline {
	return &Pipeline{
		Embedder:   embedder,
		Store:      st,
		Collection: collection,
		Chunker:    Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap},
		OCR:        NewImageTextExtractor(),
	}
}

// Stats reports what an ingestion attempt accomplished. Stored can be lower
// than Chunks when the run aborted partway through.
type Stats struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
	Stored int    `json:"stored"`
}

// IngestFile parses, chunks, embeds and stores one file. The first embedding
// or storage failure aborts the run; everything stored before the failure
// stays stored and is reported in Stats.
func (p *Pipeline) IngestFile(ctx context.Context, filename string, data []byte) (Stats, error) {
	parsed, err := parseFile(filename, data)
	if err != nil {
		return Stats{Source: filename}, err
	}
	return p.ingestParsed(ctx, filename, parsed)
}

// ingestParsed chunks, embeds and stores already-parsed content. The
// empty-input check runs on the parsed text alone: OCR output can only add
// indexed content, never flip a file between success and failure.
func (p *Pipeline) ingestParsed(ctx context.Context, filename string, parsed Parsed) (Stats, error) {
	stats := Stats{Source: filename}

	var chunks []string
	for _, b := range parsed.Blocks {
		chunks = append(chunks, p.Chunker.Split(b)...)
	}
	if len(chunks) == 0 {
		return stats, fmt.Errorf("%w: %s", ErrEmptyInput, filename)
	}

	if extra := ocrBlocks(ctx, p.OCR, parsed.Images); len(extra) > 0 {
		log.Printf("ingest: %s: OCR recovered %d image block(s)", filename, len(extra))
		for _, b := range extra {
			chunks = append(chunks, p.Chunker.Split(b)...)
		}
	}
	stats.Chunks = len(chunks)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := p.Embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("embed chunks %d-%d of %s: %w", start, end-1, filename, err)
		}

		points := make([]store.Point, len(batch))
		for i, text := range batch {
			points[i] = store.Point{
				ID:     uuid.NewString(),
				Vector: vectors[i],
				Payload: map[string]any{
					"source":      filename,
					"chunk_index": start + i,
					"text":        text,
				},
			}
		}
		if err := p.Store.Upsert(ctx, p.Collection, points); err != nil {
			return stats, fmt.Errorf("store chunks %d-%d of %s: %w", start, end-1, filename, err)
		}
		stats.Stored = end
	}

	log.Printf("ingest: %s: stored %d chunk(s)", filename, stats.Stored)
	return stats, nil
}
