package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore implements VectorStore for tests and lightweight deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	dims        map[string]int
	collections map[string]map[string]Point
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		dims:        make(map[string]int),
		collections: make(map[string]map[string]Point),
	}
}

func (s *InMemoryStore) EnsureCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrWrite, dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]Point)
		s.dims[name] = dimension
	}
	return nil
}

func (s *InMemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	delete(s.dims, name)
	return nil
}

func (s *InMemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Point)
		s.collections[collection] = coll
	}
	for _, p := range points {
		cp := Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: clonePayload(p.Payload),
		}
		coll[p.ID] = cp
	}
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[collection]
	results := make([]Result, 0, len(coll))
	for _, p := range coll {
		if !filter.Matches(p.Payload) {
			continue
		}
		results = append(results, Result{
			ID:      p.ID,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: clonePayload(p.Payload),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *InMemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

func (s *InMemoryStore) List(_ context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration for replay
	points := make([]Point, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(points) >= limit {
			break
		}
		p := coll[id]
		if !filter.Matches(p.Payload) {
			continue
		}
		points = append(points, Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: clonePayload(p.Payload),
		})
	}
	return points, nil
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}

var _ VectorStore = (*InMemoryStore)(nil)
