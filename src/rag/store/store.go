package store

import (
	"context"
	"errors"
	"math"
)

// Point is an opaque vector+payload record inside a named collection.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Result is one similarity-search hit, descending by Score.
type Result struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter is a set of equality predicates over payload fields
// (e.g. {"session_id": "abc"}). A nil or empty filter matches everything.
type Filter map[string]any

// Errors callers can test with errors.Is. Backends wrap their own failures
// into one of these two kinds; retry policy stays with the caller.
var (
	ErrWrite = errors.New("vector store write failed")
	ErrRead  = errors.New("vector store read failed")
)

// VectorStore manages named collections of vectors-with-payload.
//
// EnsureCollection is idempotent and may fail while the backend is cold;
// implementations re-attempt creation lazily on first actual use so a late
// backend never turns into a fatal startup error.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error)
	Count(ctx context.Context, collection string) (int, error)
	// List pages through stored points (vectors included), used to rebuild
	// derived state such as the conversation cluster index.
	List(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Matches reports whether a payload satisfies every equality predicate.
func (f Filter) Matches(payload map[string]any) bool {
	for k, want := range f {
		if payload == nil {
			return false
		}
		if got, ok := payload[k]; !ok || got != want {
			return false
		}
	}
	return true
}
