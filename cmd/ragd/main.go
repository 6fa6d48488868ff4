package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Protocol-Lattice/ragd/src/config"
	"github.com/Protocol-Lattice/ragd/src/models"
	"github.com/Protocol-Lattice/ragd/src/rag/chain"
	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/ingest"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
	"github.com/Protocol-Lattice/ragd/src/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("ragd: %v", err)
	}

	ctx := context.Background()

	embedProvider, err := embed.NewProvider(ctx, cfg.Embedding.Provider, cfg.Embedding.Model)
	if err != nil {
		log.Fatalf("ragd: embedding provider: %v", err)
	}
	embedder := embed.NewClient(embedProvider)

	llm, err := models.NewProvider(ctx, cfg.LLM.Provider, cfg.LLM.Model, "")
	if err != nil {
		log.Fatalf("ragd: llm provider: %v", err)
	}
	cached := models.NewCachedLLM(llm, cfg.Cache.Capacity, cfg.Cache.TTL)

	vectorStore, err := newVectorStore(ctx, cfg)
	if err != nil {
		log.Fatalf("ragd: vector store: %v", err)
	}

	mem := memory.NewStore(embedder, vectorStore, cfg.Collections.Conversations, cfg.Clustering.Threshold)

	ing := ingest.NewPipeline(embedder, vectorStore, cfg.Collections.Documents)
	ing.Chunker = ingest.Chunker{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap}

	ch := &chain.Pipeline{
		Composer: &chain.Composer{
			Embedder:       embedder,
			Docs:           vectorStore,
			DocsCollection: cfg.Collections.Documents,
			Memory:         mem,
			TopK:           cfg.Retrieval.TopK,
			Budget:         cfg.Retrieval.ContextBudget,
		},
		LLM:    cached,
		Memory: mem,
	}

	// Bootstrap runs in the background so the HTTP listener never waits on a
	// slow or absent backend; lazy creation covers anything that fails here.
	go bootstrap(ctx, cfg, embedder, vectorStore, mem)

	srv := server.New(ing, ch, mem, embedder, vectorStore, cfg.Collections.Documents, cfg.Retrieval.TopK)

	go func() {
		if err := srv.Start(cfg.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ragd: server: %v", err)
		}
	}()
	log.Printf("ragd: listening on %s (store=%s embed=%s llm=%s)",
		cfg.Addr, cfg.Store.Backend, cfg.Embedding.Provider, cfg.LLM.Provider)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ragd: shutdown: %v", err)
	}
}

// bootstrap probes the embedding dimension, ensures both collections and
// rebuilds the conversation cluster index. Failures are logged and left to
// the lazy-creation path; startup never blocks on them.
func bootstrap(ctx context.Context, cfg config.Config, embedder *embed.Client, vs store.VectorStore, mem *memory.Store) {
	dim := embedder.Dimension(ctx)
	for _, collection := range []string{cfg.Collections.Documents, cfg.Collections.Conversations} {
		if err := vs.EnsureCollection(ctx, collection, dim); err != nil {
			log.Printf("ragd: ensure collection %s deferred: %v", collection, err)
		}
	}
	if err := mem.Rebuild(ctx); err != nil {
		log.Printf("ragd: cluster index rebuild skipped: %v", err)
	}
}

func newVectorStore(ctx context.Context, cfg config.Config) (store.VectorStore, error) {
	switch cfg.Store.Backend {
	case "qdrant", "":
		return store.NewQdrantStore(cfg.Store.QdrantURL, cfg.Store.QdrantAPIKey), nil
	case "memory":
		return store.NewInMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.PostgresURL)
	case "mongo":
		return store.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
	case "neo4j":
		return store.NewNeo4jStore(ctx, cfg.Store.Neo4jURI, cfg.Store.Neo4jUser, cfg.Store.Neo4jPassword, cfg.Store.Neo4jDatabase)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
