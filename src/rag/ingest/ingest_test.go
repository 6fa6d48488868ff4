package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return embed.DummyEmbedding(text), nil
}

type failingStore struct {
	store.VectorStore
	failAfter int // number of successful upserts before failing
	upserts   int
}

func (f *failingStore) Upsert(ctx context.Context, collection string, points []store.Point) error {
	if f.upserts >= f.failAfter {
		return store.ErrWrite
	}
	f.upserts++
	return f.VectorStore.Upsert(ctx, collection, points)
}

func newTestPipeline(embedder *countingEmbedder, st store.VectorStore) *Pipeline {
	p := NewPipeline(embed.NewClient(embedder), st, "documents")
	p.OCR = NoopOCR{}
	return p
}

func TestIngestUnsupportedTypeBeforeEmbedding(t *testing.T) {
	embedder := &countingEmbedder{}
	p := newTestPipeline(embedder, store.NewInMemoryStore())

	_, err := p.IngestFile(context.Background(), "slides.pptx", []byte("whatever"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if embedder.calls != 0 {
		t.Fatalf("validation must precede embedding, saw %d call(s)", embedder.calls)
	}
}

func TestIngestEmptyInputBeforeEmbedding(t *testing.T) {
	embedder := &countingEmbedder{}
	p := newTestPipeline(embedder, store.NewInMemoryStore())

	_, err := p.IngestFile(context.Background(), "blank.txt", []byte("   \n\n  "))
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if embedder.calls != 0 {
		t.Fatalf("empty input must not reach the embedder, saw %d call(s)", embedder.calls)
	}
}

func TestIngestStoresChunksWithPayload(t *testing.T) {
	embedder := &countingEmbedder{}
	st := store.NewInMemoryStore()
	p := newTestPipeline(embedder, st)
	ctx := context.Background()

	stats, err := p.IngestFile(ctx, "notes.txt", []byte("retrieval augmented generation"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if stats.Chunks != 1 || stats.Stored != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	points, err := st.List(ctx, "documents", nil, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 stored point, got %d", len(points))
	}
	payload := points[0].Payload
	if payload["source"] != "notes.txt" {
		t.Fatalf("missing source: %#v", payload)
	}
	if payload["chunk_index"] != 0 {
		t.Fatalf("missing chunk_index: %#v", payload)
	}
	if payload["text"] != "retrieval augmented generation" {
		t.Fatalf("missing text: %#v", payload)
	}
}

func TestIngestCSVKeepsHeaderContext(t *testing.T) {
	embedder := &countingEmbedder{}
	st := store.NewInMemoryStore()
	p := newTestPipeline(embedder, st)

	csvData := []byte("name,city\nAda,London\nAlan,Manchester\n")
	if _, err := p.IngestFile(context.Background(), "people.csv", csvData); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	points, _ := st.List(context.Background(), "documents", nil, 10)
	if len(points) == 0 {
		t.Fatal("expected stored chunks")
	}
	text, _ := points[0].Payload["text"].(string)
	if !strings.Contains(text, "name: Ada") || !strings.Contains(text, "city: London") {
		t.Fatalf("csv rows lost their header context: %q", text)
	}
}

func TestIngestAbortsWithPartialCount(t *testing.T) {
	embedder := &countingEmbedder{}
	st := &failingStore{VectorStore: store.NewInMemoryStore(), failAfter: 1}
	p := newTestPipeline(embedder, st)
	p.Chunker = Chunker{Size: 10, Overlap: 0}

	// 400 runes at 10 per chunk: 40 chunks, two embed batches of 32 and 8.
	data := []byte(strings.Repeat("abcdefghij", 40))
	stats, err := p.IngestFile(context.Background(), "big.txt", data)
	if err == nil {
		t.Fatal("expected an error from the failing store")
	}
	if stats.Chunks != 40 {
		t.Fatalf("expected 40 chunks, got %d", stats.Chunks)
	}
	if stats.Stored != embedBatchSize {
		t.Fatalf("expected %d stored before the abort, got %d", embedBatchSize, stats.Stored)
	}
}

type captionOCR struct {
	calls int
}

func (c *captionOCR) ExtractText(_ context.Context, _ []byte) (string, error) {
	c.calls++
	return "caption from image", nil
}

type brokenOCR struct{}

func (brokenOCR) ExtractText(context.Context, []byte) (string, error) {
	return "", errors.New("ocr engine unavailable")
}

func TestOCRAppendsImageText(t *testing.T) {
	embedder := &countingEmbedder{}
	st := store.NewInMemoryStore()
	p := newTestPipeline(embedder, st)
	ocr := &captionOCR{}
	p.OCR = ocr
	ctx := context.Background()

	parsed := Parsed{
		Blocks: []string{"body text"},
		Images: [][]byte{{0x1}, {0x2}},
	}
	stats, err := p.ingestParsed(ctx, "scan.pdf", parsed)
	if err != nil {
		t.Fatalf("ingestParsed: %v", err)
	}
	if ocr.calls != 2 {
		t.Fatalf("expected both images extracted, got %d call(s)", ocr.calls)
	}
	if stats.Chunks != 3 || stats.Stored != 3 {
		t.Fatalf("expected body + 2 image chunks, got %+v", stats)
	}

	points, _ := st.List(ctx, "documents", nil, 10)
	found := false
	for _, pt := range points {
		if pt.Payload["text"] == "caption from image" {
			found = true
		}
	}
	if !found {
		t.Fatal("OCR text missing from the stored chunks")
	}
}

func TestOCROutcomeMatchesDisabled(t *testing.T) {
	parsed := Parsed{
		Blocks: []string{"body text"},
		Images: [][]byte{{0x1}},
	}
	extractors := map[string]ImageTextExtractor{
		"disabled": NoopOCR{},
		"working":  &captionOCR{},
		"broken":   brokenOCR{},
	}
	for name, ocr := range extractors {
		p := newTestPipeline(&countingEmbedder{}, store.NewInMemoryStore())
		p.OCR = ocr
		if _, err := p.ingestParsed(context.Background(), "scan.pdf", parsed); err != nil {
			t.Fatalf("%s extractor changed the outcome: %v", name, err)
		}
	}

	// Image-only input fails the same way whether or not OCR can read it.
	imageOnly := Parsed{Images: [][]byte{{0x1}}}
	for name, ocr := range extractors {
		p := newTestPipeline(&countingEmbedder{}, store.NewInMemoryStore())
		p.OCR = ocr
		if _, err := p.ingestParsed(context.Background(), "scan.pdf", imageOnly); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("%s extractor changed the empty outcome: %v", name, err)
		}
	}
}

func TestOCRSkipsFailedImages(t *testing.T) {
	st := store.NewInMemoryStore()
	p := newTestPipeline(&countingEmbedder{}, st)
	p.OCR = brokenOCR{}
	ctx := context.Background()

	parsed := Parsed{
		Blocks: []string{"body text"},
		Images: [][]byte{{0x1}, {0x2}},
	}
	stats, err := p.ingestParsed(ctx, "scan.pdf", parsed)
	if err != nil {
		t.Fatalf("failed extractions must not be fatal: %v", err)
	}
	if stats.Chunks != 1 || stats.Stored != 1 {
		t.Fatalf("expected only the body chunk, got %+v", stats)
	}
}

func TestChunkerOverlapAndDeterminism(t *testing.T) {
	c := Chunker{Size: 10, Overlap: 3}
	text := strings.Repeat("0123456789", 3)

	first := c.Split(text)
	second := c.Split(text)
	if len(first) != len(second) {
		t.Fatalf("chunking is not deterministic: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}

	for i := 1; i < len(first); i++ {
		prevTail := first[i-1][len(first[i-1])-3:]
		if !strings.HasPrefix(first[i], prevTail) {
			t.Fatalf("chunk %d does not overlap its predecessor: %q then %q", i, first[i-1], first[i])
		}
	}
}

func TestChunkerShortInputSingleChunk(t *testing.T) {
	c := Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	chunks := c.Split("short text")
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("expected single chunk, got %#v", chunks)
	}
	if got := c.Split("   "); got != nil {
		t.Fatalf("whitespace-only input must yield no chunks, got %#v", got)
	}
}
