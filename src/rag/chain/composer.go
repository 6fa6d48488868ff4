package chain

import (
	"context"
	"log"
	"strings"
	"sync"

	gotoon "github.com/alpkeskin/gotoon"

	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

const (
	DefaultTopK          = 5
	DefaultContextBudget = 6000
)

// Composer gathers the retrieval context for a question: document chunks and
// past conversation turns, fetched concurrently and fitted into a character
// budget with documents taking priority.
type Composer struct {
	Embedder       *embed.Client
	Docs           store.VectorStore
	DocsCollection string
	Memory         *memory.Store
	TopK           int
	Budget         int
}

// Context is the assembled retrieval context for one question.
type Context struct {
	Documents []store.Result
	Memory    []store.Result
	Text      string
}

// Compose retrieves and assembles context for a question. Retrieval is best
// effort: a failing document search or memory search degrades the context,
// it never fails the question. When the embedder itself is down, the memory
// side falls back to the session's most recent turns.
func (c *Composer) Compose(ctx context.Context, sessionID, question string) Context {
	topK := c.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := c.Embedder.Embed(ctx, question)
	if err != nil {
		log.Printf("chain: embedding unavailable (%v), using recent turns only", err)
		return c.recentOnly(ctx, sessionID, topK)
	}

	var (
		wg       sync.WaitGroup
		docs     []store.Result
		memories []store.Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results, err := c.Docs.Search(ctx, c.DocsCollection, vec, topK, nil)
		if err != nil {
			log.Printf("chain: document search failed: %v", err)
			return
		}
		docs = results
	}()
	go func() {
		defer wg.Done()
		if c.Memory == nil {
			return
		}
		results, err := c.Memory.SimilaritySearch(ctx, sessionID, question, topK)
		if err != nil {
			log.Printf("chain: memory search failed: %v", err)
			return
		}
		memories = results
	}()
	wg.Wait()

	return Context{
		Documents: docs,
		Memory:    memories,
		Text:      c.render(docs, memories),
	}
}

func (c *Composer) recentOnly(ctx context.Context, sessionID string, n int) Context {
	if c.Memory == nil {
		return Context{}
	}
	points, err := c.Memory.RecentContext(ctx, sessionID, n)
	if err != nil {
		log.Printf("chain: recent-context fallback failed: %v", err)
		return Context{}
	}
	memories := make([]store.Result, 0, len(points))
	for _, p := range points {
		memories = append(memories, store.Result{ID: p.ID, Payload: p.Payload})
	}
	return Context{Memory: memories, Text: c.render(nil, memories)}
}

// render joins result texts under the budget. Documents are written first;
// memory fills whatever room is left. Each match carries its metadata
// (source, score, session and so on) TOON-encoded above the text.
func (c *Composer) render(docs, memories []store.Result) string {
	budget := c.Budget
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	var b strings.Builder
	write := func(header string, results []store.Result) {
		wroteHeader := false
		for _, r := range results {
			text, _ := r.Payload["text"].(string)
			if text == "" {
				continue
			}
			entry := text
			if meta := matchMeta(r); meta != "" {
				entry = meta + "\n" + text
			}
			need := len(entry) + 2
			if !wroteHeader {
				need += len(header) + 1
			}
			if b.Len()+need > budget {
				return
			}
			if !wroteHeader {
				b.WriteString(header)
				b.WriteByte('\n')
				wroteHeader = true
			}
			b.WriteString(entry)
			b.WriteString("\n\n")
		}
	}
	write("Relevant documents:", docs)
	write("Relevant conversation history:", memories)
	return strings.TrimSpace(b.String())
}

// matchMeta TOON-encodes everything about a match except its text body.
func matchMeta(r store.Result) string {
	meta := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		if k != "text" {
			meta[k] = v
		}
	}
	if r.Score > 0 {
		meta["score"] = r.Score
	}
	if len(meta) == 0 {
		return ""
	}
	encoded, err := gotoon.Encode(meta)
	if err != nil {
		return ""
	}
	return encoded
}
