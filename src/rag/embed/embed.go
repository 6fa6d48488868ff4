package embed

import (
	"context"
	"errors"
	"fmt"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by providers that can embed several texts in
// one backend call. Callers fall back to per-text Embed when it is absent.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// ---------- Dummy (fallback) ----------

// DummyEmbedder produces deterministic vectors without a backend. Useful in
// tests: identical texts embed identically, similar texts land close.
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

// DummyEmbedding is kept for tests/back-compat.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, 768)
	for i, ch := range []byte(text) {
		vec[i%768] += float32(ch) / 255.0
	}
	return vec
}

// NewProvider returns a concrete Embedder.
// RAGD_EMBED_PROVIDER=gemini|openai|ollama|voyage|fastembed|dummy
func NewProvider(ctx context.Context, provider, model string) (Embedder, error) {
	switch provider {
	case "gemini", "google":
		return NewGeminiEmbedder(ctx, model)
	case "openai":
		return NewOpenAIEmbedder(model)
	case "ollama":
		return NewOllamaEmbedder(model)
	case "voyage", "claude", "anthropic":
		return NewVoyageEmbedder(model)
	case "fastembed":
		return NewFastEmbed(ctx, defaultFastEmbedOptions())
	case "dummy", "":
		return DummyEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}
