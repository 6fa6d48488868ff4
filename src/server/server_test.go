package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/alpkeskin/gotoon"

	"github.com/Protocol-Lattice/ragd/src/rag/chain"
	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/ingest"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, prompt string) (string, error) {
	return "answered: " + prompt[max(0, len(prompt)-20):], nil
}

func newTestServer() (*Server, store.VectorStore) {
	st := store.NewInMemoryStore()
	client := embed.NewClient(embed.DummyEmbedder{})
	mem := memory.NewStore(client, st, "conversation_history", memory.DefaultThreshold)
	ing := ingest.NewPipeline(client, st, "documents")
	ch := &chain.Pipeline{
		Composer: &chain.Composer{
			Embedder:       client,
			Docs:           st,
			DocsCollection: "documents",
			Memory:         mem,
		},
		LLM:    echoLLM{},
		Memory: mem,
	}
	return New(ing, ch, mem, client, st, "documents", 5), st
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadStoresDocument(t *testing.T) {
	srv, st := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, multipartUpload(t, "notes.txt", []byte("gophers dig burrows")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	n, _ := st.Count(context.Background(), "documents")
	if n != 1 {
		t.Fatalf("expected 1 stored chunk, got %d", n)
	}
}

func TestUploadUnsupportedTypeIs400(t *testing.T) {
	srv, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, multipartUpload(t, "deck.pptx", []byte("binary")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d", rec.Code)
	}
}

func TestUploadEmptyFileIs400(t *testing.T) {
	srv, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, multipartUpload(t, "blank.txt", []byte("   ")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty input, got %d", rec.Code)
	}
}

func TestChatAnswersAndRecordsTurns(t *testing.T) {
	srv, st := newTestServer()

	body := strings.NewReader(`{"session_id":"s1","message":"hello there"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response == "" {
		t.Fatal("expected a non-empty response")
	}
	n, _ := st.Count(context.Background(), "conversation_history")
	if n != 2 {
		t.Fatalf("expected both turns recorded, got %d", n)
	}
}

func TestChatMissingMessageIs400(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatSessionIsOptional(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"no session"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("chat without a session must work unscoped, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSearchReturnsStoredChunks(t *testing.T) {
	srv, st := newTestServer()
	ctx := context.Background()

	client := embed.NewClient(embed.DummyEmbedder{})
	vec, _ := client.Embed(ctx, "gophers")
	_ = st.Upsert(ctx, "documents", []store.Point{
		{ID: "d1", Vector: vec, Payload: map[string]any{"text": "gophers dig burrows"}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"gophers"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Matches []store.Result `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	if resp.Matches[0].Score <= 0 {
		t.Fatalf("match missing its score: %+v", resp.Matches[0])
	}
}

func TestTopicsSessionIsOptional(t *testing.T) {
	srv, _ := newTestServer()

	// Seed two sessions via chat.
	for _, body := range []string{
		`{"session_id":"alpha","message":"about alpha"}`,
		`{"session_id":"beta","message":"completely different subject"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("seed chat failed: %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/topics?session_id=alpha", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for scoped topics, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/topics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("topics without session_id must aggregate, got %d", rec.Code)
	}
	var scoped, all struct {
		Topics []memory.Topic `json:"topics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode topics: %v", err)
	}
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/topics?session_id=alpha", nil))
	if err := json.Unmarshal(rec2.Body.Bytes(), &scoped); err != nil {
		t.Fatalf("decode scoped topics: %v", err)
	}
	if len(all.Topics) <= len(scoped.Topics) {
		t.Fatalf("unscoped topics (%d) should exceed one session's (%d)", len(all.Topics), len(scoped.Topics))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
