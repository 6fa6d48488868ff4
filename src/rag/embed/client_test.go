package embed

import (
	"context"
	"errors"
	"testing"
)

type fixedEmbedder struct {
	dim   int
	err   error
	calls int
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func TestClientProbesDimensionOnce(t *testing.T) {
	provider := &fixedEmbedder{dim: 384}
	c := NewClient(provider)

	for i := 0; i < 3; i++ {
		if got := c.Dimension(context.Background()); got != 384 {
			t.Fatalf("expected dimension 384, got %d", got)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single probe call, got %d", provider.calls)
	}
}

func TestClientFallsBackWhenProbeFails(t *testing.T) {
	provider := &fixedEmbedder{err: errors.New("backend down")}
	c := NewClient(provider)

	if got := c.Dimension(context.Background()); got != FallbackDimension {
		t.Fatalf("expected fallback dimension %d, got %d", FallbackDimension, got)
	}

	// The fallback sticks even if the backend recovers afterwards.
	provider.err = nil
	provider.dim = 1536
	if got := c.Dimension(context.Background()); got != FallbackDimension {
		t.Fatalf("fallback dimension must be stable, got %d", got)
	}
}

func TestClientNormalizesFailures(t *testing.T) {
	c := NewClient(&fixedEmbedder{err: errors.New("boom")})
	if _, err := c.Embed(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	c = NewClient(nil)
	if _, err := c.Embed(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil provider must report ErrUnavailable, got %v", err)
	}
}

func TestClientFlagsDimensionMismatch(t *testing.T) {
	provider := &fixedEmbedder{err: errors.New("cold start")}
	c := NewClient(provider)
	c.Dimension(context.Background()) // locks in the 768 fallback

	provider.err = nil
	provider.dim = 1536
	_, err := c.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestDummyEmbeddingIsDeterministic(t *testing.T) {
	a := DummyEmbedding("same text")
	b := DummyEmbedding("same text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dummy embedding must be deterministic at index %d", i)
		}
	}
	if len(a) != FallbackDimension {
		t.Fatalf("expected %d dims, got %d", FallbackDimension, len(a))
	}
}
