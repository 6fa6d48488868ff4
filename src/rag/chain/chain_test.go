package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Protocol-Lattice/ragd/src/models"
	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

type scriptedLLM struct {
	reply string
	err   error
	calls int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func newTestChain(llm models.Agent) (*Pipeline, store.VectorStore) {
	st := store.NewInMemoryStore()
	client := embed.NewClient(embed.DummyEmbedder{})
	mem := memory.NewStore(client, st, "conversation_history", memory.DefaultThreshold)
	return &Pipeline{
		Composer: &Composer{
			Embedder:       client,
			Docs:           st,
			DocsCollection: "documents",
			Memory:         mem,
		},
		LLM:    llm,
		Memory: mem,
	}, st
}

func TestAskRecordsBothTurns(t *testing.T) {
	llm := &scriptedLLM{reply: "the answer"}
	p, st := newTestChain(llm)
	ctx := context.Background()

	ans, err := p.Ask(ctx, "s1", "what is the answer?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "the answer" {
		t.Fatalf("unexpected answer: %q", ans.Text)
	}

	n, _ := st.Count(ctx, "conversation_history")
	if n != 2 {
		t.Fatalf("expected 2 recorded turns, got %d", n)
	}
}

func TestAskGenerationFailureRecordsNothing(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model overloaded")}
	p, st := newTestChain(llm)
	ctx := context.Background()

	_, err := p.Ask(ctx, "s1", "doomed question")
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}

	n, _ := st.Count(ctx, "conversation_history")
	if n != 0 {
		t.Fatalf("failed generation must not record turns, got %d", n)
	}
}

func TestComposeIncludesDocumentChunks(t *testing.T) {
	llm := &scriptedLLM{reply: "ok"}
	p, st := newTestChain(llm)
	ctx := context.Background()

	query := "tell me about gophers"
	vec, err := p.Composer.Embedder.Embed(ctx, query)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	_ = st.Upsert(ctx, "documents", []store.Point{
		{ID: "d1", Vector: vec, Payload: map[string]any{"text": "gophers dig burrows"}},
	})

	composed := p.Composer.Compose(ctx, "s1", query)
	if len(composed.Documents) != 1 {
		t.Fatalf("expected 1 document hit, got %d", len(composed.Documents))
	}
	if !strings.Contains(composed.Text, "gophers dig burrows") {
		t.Fatalf("document text missing from context: %q", composed.Text)
	}
	if !strings.Contains(composed.Text, "Relevant documents:") {
		t.Fatalf("missing section header: %q", composed.Text)
	}
}

func TestAskTrimsAnswerText(t *testing.T) {
	llm := &scriptedLLM{reply: "\n  the answer  \n\n"}
	p, _ := newTestChain(llm)

	ans, err := p.Ask(context.Background(), "s1", "a question")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "the answer" {
		t.Fatalf("answer must be trimmed, got %q", ans.Text)
	}
}

func TestRenderEncodesMatchMetadata(t *testing.T) {
	c := &Composer{}
	docs := []store.Result{
		{
			ID:    "d1",
			Score: 0.9,
			Payload: map[string]any{
				"text":        "gophers dig burrows",
				"source":      "notes.txt",
				"chunk_index": 0,
			},
		},
	}

	out := c.render(docs, nil)
	if !strings.Contains(out, `source: "notes.txt"`) {
		t.Fatalf("metadata missing from context: %q", out)
	}
	if !strings.Contains(out, "score: 0.9") {
		t.Fatalf("score missing from context: %q", out)
	}
	if !strings.Contains(out, "gophers dig burrows") {
		t.Fatalf("text body missing from context: %q", out)
	}
	if strings.Contains(out, `text: "gophers`) {
		t.Fatalf("text must stay a plain body, not metadata: %q", out)
	}
}

func TestRenderBudgetPrioritizesDocuments(t *testing.T) {
	c := &Composer{Budget: 120}
	docs := []store.Result{
		{ID: "d1", Payload: map[string]any{"text": strings.Repeat("d", 80)}},
	}
	memories := []store.Result{
		{ID: "m1", Payload: map[string]any{"text": strings.Repeat("m", 80)}},
	}

	out := c.render(docs, memories)
	if !strings.Contains(out, strings.Repeat("d", 80)) {
		t.Fatalf("document chunk must survive the budget: %q", out)
	}
	if strings.Contains(out, strings.Repeat("m", 80)) {
		t.Fatalf("memory chunk must be dropped when over budget: %q", out)
	}
}

func TestBuildPromptWithAndWithoutContext(t *testing.T) {
	withCtx := BuildPrompt("some facts", "a question")
	if !strings.Contains(withCtx, "some facts") || !strings.Contains(withCtx, "a question") {
		t.Fatalf("prompt missing pieces: %q", withCtx)
	}
	noCtx := BuildPrompt("", "a question")
	if strings.Contains(noCtx, "Context:") {
		t.Fatalf("empty context must use the no-context template: %q", noCtx)
	}
	if !strings.Contains(noCtx, "a question") {
		t.Fatalf("question missing: %q", noCtx)
	}
}
