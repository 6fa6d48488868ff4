package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestQdrantStoreLazilyRetriesCreation(t *testing.T) {
	var healthy atomic.Bool
	var creates atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, `{"status":{"error":"service unavailable"}}`, http.StatusServiceUnavailable)
			return
		}
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/documents":
			creates.Add(1)
			_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/documents/points":
			_, _ = w.Write([]byte(`{"status":"ok","result":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "")
	ctx := context.Background()

	// Backend cold at startup: ensure fails but must be retried later.
	if err := qs.EnsureCollection(ctx, "documents", 4); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite while backend is down, got %v", err)
	}

	healthy.Store(true)
	err := qs.Upsert(ctx, "documents", []Point{{ID: "00000000-0000-0000-0000-000000000001", Vector: []float32{1, 2, 3, 4}}})
	if err != nil {
		t.Fatalf("Upsert after recovery: %v", err)
	}
	if creates.Load() != 1 {
		t.Fatalf("expected exactly one lazy create, got %d", creates.Load())
	}

	// Creation is remembered; no second attempt.
	_ = qs.Upsert(ctx, "documents", []Point{{ID: "00000000-0000-0000-0000-000000000002", Vector: []float32{1, 2, 3, 4}}})
	if creates.Load() != 1 {
		t.Fatalf("create must not repeat once confirmed, got %d", creates.Load())
	}
}

func TestQdrantStoreTreatsExistingCollectionAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"collection documents already exists"}}`, http.StatusConflict)
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "")
	if err := qs.EnsureCollection(context.Background(), "documents", 8); err != nil {
		t.Fatalf("already-exists must be idempotent success, got %v", err)
	}
}

func TestQdrantStoreSearchSendsFilterAndParsesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/conversation_history/points/search" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Filter *struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value any `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
			Limit int `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode search request: %v", err)
		}
		if req.Filter == nil || len(req.Filter.Must) != 1 || req.Filter.Must[0].Key != "session_id" {
			t.Errorf("expected session_id filter, got %+v", req.Filter)
		}
		if req.Limit != 2 {
			t.Errorf("expected limit 2, got %d", req.Limit)
		}
		_, _ = w.Write([]byte(`{"status":"ok","result":[
                        {"id":"p1","score":0.97,"payload":{"text":"first"}},
                        {"id":"p2","score":0.42,"payload":{"text":"second"}}
                ]}`))
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "")
	results, err := qs.Search(context.Background(), "conversation_history", []float32{1, 0}, 2, Filter{"session_id": "s1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "p1" || results[0].Score != 0.97 {
		t.Fatalf("unexpected results: %#v", results)
	}
}

func TestQdrantStoreMissingCollectionSearchIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection conversation_history not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "")
	results, err := qs.Search(context.Background(), "conversation_history", []float32{1}, 3, nil)
	if err != nil {
		t.Fatalf("missing collection must not error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result set, got %d", len(results))
	}
}
