//go:build !fastembed

package embed

import (
	"context"
	"fmt"
)

// FastEmbedOptions configure the local ONNX embedding model.
type FastEmbedOptions struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

func defaultFastEmbedOptions() *FastEmbedOptions { return nil }

func NewFastEmbed(ctx context.Context, opt *FastEmbedOptions) (Embedder, error) {
	return nil, fmt.Errorf("fastembed support not included; rebuild with -tags fastembed")
}
