package embed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// FallbackDimension is used when the dimension probe fails, so collection
// creation can proceed without a reachable embedding backend. If the backend
// later comes up with a different dimensionality, vectors land in a degraded
// mode (see ErrDimensionMismatch) rather than crashing the process.
const FallbackDimension = 768

const probeText = "__dimension_probe__"

// ErrUnavailable wraps embedding backend failures and malformed outputs.
var ErrUnavailable = errors.New("embedding unavailable")

// ErrDimensionMismatch marks the known degraded mode where a vector's length
// diverges from the dimensionality recorded at probe time. Surfaced as a
// warning by callers, never fatal.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Client wraps an Embedder with process-lifetime dimensionality detection.
// The working dimension is probed once on first use; the probe result (or the
// fallback) sticks for the lifetime of the Client.
type Client struct {
	provider Embedder

	probeOnce sync.Once
	dim       int
	probed    bool
}

// NewClient wraps the provider. A nil provider yields a client whose calls
// all fail with ErrUnavailable, keeping wiring code free of nil checks.
func NewClient(provider Embedder) *Client {
	return &Client{provider: provider}
}

// Dimension returns the working vector dimensionality, probing the backend
// on first call. A failed probe logs and falls back to FallbackDimension.
func (c *Client) Dimension(ctx context.Context) int {
	c.probeOnce.Do(func() {
		c.dim = FallbackDimension
		if c.provider == nil {
			log.Printf("embed: no provider configured, assuming dimension %d", FallbackDimension)
			return
		}
		vec, err := c.provider.Embed(ctx, probeText)
		if err != nil || len(vec) == 0 {
			log.Printf("embed: dimension probe failed (%v), falling back to %d", err, FallbackDimension)
			return
		}
		c.dim = len(vec)
		c.probed = true
	})
	return c.dim
}

// Embed returns the embedding for text, normalizing backend failures to
// ErrUnavailable and flagging vectors that disagree with the probed
// dimensionality.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
	}
	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrUnavailable)
	}
	if dim := c.Dimension(ctx); len(vec) != dim {
		// Known degraded mode after a fallback-dimension bootstrap; the vector
		// is unusable in collections declared with the other dimensionality.
		return vec, fmt.Errorf("%w: got %d, collection dimension %d", ErrDimensionMismatch, len(vec), dim)
	}
	return vec, nil
}

// EmbedBatch embeds texts in one backend call when the provider supports it,
// otherwise sequentially. Results align with the input slice.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
	}
	if b, ok := c.provider.(BatchEmbedder); ok {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(texts) {
			dim := c.Dimension(ctx)
			for _, v := range vecs {
				if len(v) != dim {
					return vecs, fmt.Errorf("%w: got %d, collection dimension %d", ErrDimensionMismatch, len(v), dim)
				}
			}
			return vecs, nil
		}
		// Fall through to the sequential path on batch failure.
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
