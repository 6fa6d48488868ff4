package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/alpkeskin/gotoon"
)

// --- Qdrant wire types ---

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string // "ok" or "error"
	Error string // non-empty if error
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

type qdrantScrollResult struct {
	Points []qdrantPoint   `json:"points"`
	Offset json.RawMessage `json:"next_page_offset"`
}

type qdrantCountResult struct {
	Count int `json:"count"`
}

// QdrantStore talks to Qdrant's REST API directly; collections are created
// lazily so a backend that starts after the application never blocks serving.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu      sync.Mutex
	dims    map[string]int  // collection -> declared dimensionality
	created map[string]bool // collection -> create confirmed by backend
}

// NewQdrantStore creates a Qdrant-backed VectorStore implementation.
func NewQdrantStore(baseURL, apiKey string) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		dims:    make(map[string]int),
		created: make(map[string]bool),
	}
}

// EnsureCollection registers the collection's dimensionality and attempts to
// create it. The registration survives a failed attempt: the next Upsert or
// Search retries creation before touching the collection.
func (qs *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if name == "" {
		return fmt.Errorf("%w: empty collection name", ErrWrite)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrWrite, dimension)
	}
	qs.mu.Lock()
	qs.dims[name] = dimension
	qs.mu.Unlock()
	return qs.createCollection(ctx, name, dimension)
}

func (qs *QdrantStore) createCollection(ctx context.Context, name string, dimension int) error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	var resp qdrantEnvelope[json.RawMessage]
	err := qs.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), req, &resp)
	if err != nil {
		// "already exists" is success for an idempotent ensure.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			qs.markCreated(name)
			return nil
		}
		return fmt.Errorf("%w: create collection %s: %v", ErrWrite, name, err)
	}
	qs.markCreated(name)
	return nil
}

func (qs *QdrantStore) markCreated(name string) {
	qs.mu.Lock()
	qs.created[name] = true
	qs.mu.Unlock()
}

// ensureLazy re-attempts collection creation if a previous ensure failed.
func (qs *QdrantStore) ensureLazy(ctx context.Context, name string) error {
	qs.mu.Lock()
	done := qs.created[name]
	dim, registered := qs.dims[name]
	qs.mu.Unlock()
	if done || !registered {
		return nil
	}
	return qs.createCollection(ctx, name, dim)
}

// DeleteCollection removes the collection and forgets its registration.
func (qs *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := qs.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", ErrWrite, name, err)
	}
	qs.mu.Lock()
	delete(qs.created, name)
	delete(qs.dims, name)
	qs.mu.Unlock()
	return nil
}

// Upsert writes points into the collection.
func (qs *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := qs.ensureLazy(ctx, collection); err != nil {
		return err
	}
	reqPoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		reqPoints = append(reqPoints, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	req := map[string]any{"points": reqPoints}
	var resp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))
	if err := qs.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", ErrWrite, collection, err)
	}
	return nil
}

// Search performs a filtered similarity search, descending by score.
func (qs *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := qs.ensureLazy(ctx, collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if cond := qdrantFilter(filter); cond != nil {
		req["filter"] = cond
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))
	if err := qs.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		// A missing collection means no matches, not a request failure.
		if strings.Contains(strings.ToLower(err.Error()), "not found") ||
			strings.Contains(strings.ToLower(err.Error()), "doesn't exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: search %s: %v", ErrRead, collection, err)
	}
	results := make([]Result, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, Result{
			ID:      fmt.Sprint(p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Count returns the number of points in the collection.
func (qs *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var resp qdrantEnvelope[qdrantCountResult]
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(collection))
	if err := qs.do(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") ||
			strings.Contains(strings.ToLower(err.Error()), "doesn't exist") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count %s: %v", ErrRead, collection, err)
	}
	return resp.Result.Count, nil
}

// List scrolls through points, vectors included.
func (qs *QdrantStore) List(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	var (
		points []Point
		offset json.RawMessage
	)
	for len(points) < limit {
		req := map[string]any{
			"limit":        min(256, limit-len(points)),
			"with_payload": true,
			"with_vector":  true,
		}
		if cond := qdrantFilter(filter); cond != nil {
			req["filter"] = cond
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp qdrantEnvelope[qdrantScrollResult]
		path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(collection))
		if err := qs.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "not found") ||
				strings.Contains(strings.ToLower(err.Error()), "doesn't exist") {
				return points, nil
			}
			return nil, fmt.Errorf("%w: scroll %s: %v", ErrRead, collection, err)
		}
		for _, p := range resp.Result.Points {
			points = append(points, Point{
				ID:      fmt.Sprint(p.ID),
				Vector:  p.Vector,
				Payload: p.Payload,
			})
		}
		if len(resp.Result.Offset) == 0 || string(resp.Result.Offset) == "null" {
			break
		}
		offset = resp.Result.Offset
	}
	return points, nil
}

func qdrantFilter(filter Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

// --- Internal HTTP call with robust handling (dual-status parsing) ---

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, qs.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		// Either header works; sending both covers deployments with either check.
		req.Header.Set("api-key", qs.apiKey)
		req.Header.Set("Authorization", "Bearer "+qs.apiKey)
	}

	resp, err := qs.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var env qdrantEnvelope[json.RawMessage]
	_ = json.Unmarshal(respBody, &env) // best-effort parse

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if env.Status.Error != "" {
		return errors.New(env.Status.Error)
	}
	return fmt.Errorf("qdrant error: http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}
