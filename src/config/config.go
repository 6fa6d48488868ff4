package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the daemon needs to wire itself. Values come
// from, in increasing precedence: built-in defaults, an optional YAML file,
// then RAGD_* environment variables (a .env file is loaded first if present).
type Config struct {
	Addr string `yaml:"addr"`

	Embedding struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"embedding"`

	LLM struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"llm"`

	Store struct {
		Backend string `yaml:"backend"` // qdrant, memory, postgres, mongo, neo4j

		QdrantURL    string `yaml:"qdrant_url"`
		QdrantAPIKey string `yaml:"qdrant_api_key"`

		PostgresURL string `yaml:"postgres_url"`

		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`

		Neo4jURI      string `yaml:"neo4j_uri"`
		Neo4jUser     string `yaml:"neo4j_user"`
		Neo4jPassword string `yaml:"neo4j_password"`
		Neo4jDatabase string `yaml:"neo4j_database"`
	} `yaml:"store"`

	Collections struct {
		Documents     string `yaml:"documents"`
		Conversations string `yaml:"conversations"`
	} `yaml:"collections"`

	Chunking struct {
		Size    int `yaml:"size"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunking"`

	Retrieval struct {
		TopK          int `yaml:"top_k"`
		ContextBudget int `yaml:"context_budget"`
	} `yaml:"retrieval"`

	Clustering struct {
		Threshold float64 `yaml:"threshold"`
	} `yaml:"clustering"`

	Cache struct {
		Capacity int           `yaml:"capacity"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Addr = ":8080"
	cfg.Embedding.Provider = "dummy"
	cfg.LLM.Provider = "dummy"
	cfg.Store.Backend = "qdrant"
	cfg.Store.QdrantURL = "http://localhost:6333"
	cfg.Store.MongoDatabase = "ragd"
	cfg.Store.Neo4jURI = "neo4j://localhost:7687"
	cfg.Collections.Documents = "documents"
	cfg.Collections.Conversations = "conversation_history"
	cfg.Chunking.Size = 800
	cfg.Chunking.Overlap = 120
	cfg.Retrieval.TopK = 5
	cfg.Retrieval.ContextBudget = 6000
	cfg.Clustering.Threshold = 0.80
	cfg.Cache.Capacity = 256
	cfg.Cache.TTL = 10 * time.Minute
	return cfg
}

// Load builds the configuration. path may be empty; a missing YAML file at a
// non-empty path is an error, everything else degrades to defaults.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(dst *float64, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr(&cfg.Addr, "RAGD_ADDR")
	setStr(&cfg.Embedding.Provider, "RAGD_EMBED_PROVIDER")
	setStr(&cfg.Embedding.Model, "RAGD_EMBED_MODEL")
	setStr(&cfg.LLM.Provider, "RAGD_LLM_PROVIDER")
	setStr(&cfg.LLM.Model, "RAGD_LLM_MODEL")
	setStr(&cfg.Store.Backend, "RAGD_STORE_BACKEND")
	setStr(&cfg.Store.QdrantURL, "RAGD_QDRANT_URL")
	setStr(&cfg.Store.QdrantAPIKey, "RAGD_QDRANT_API_KEY")
	setStr(&cfg.Store.PostgresURL, "RAGD_POSTGRES_URL")
	setStr(&cfg.Store.MongoURI, "RAGD_MONGO_URI")
	setStr(&cfg.Store.MongoDatabase, "RAGD_MONGO_DATABASE")
	setStr(&cfg.Store.Neo4jURI, "RAGD_NEO4J_URI")
	setStr(&cfg.Store.Neo4jUser, "RAGD_NEO4J_USER")
	setStr(&cfg.Store.Neo4jPassword, "RAGD_NEO4J_PASSWORD")
	setStr(&cfg.Store.Neo4jDatabase, "RAGD_NEO4J_DATABASE")
	setStr(&cfg.Collections.Documents, "RAGD_DOCUMENTS_COLLECTION")
	setStr(&cfg.Collections.Conversations, "RAGD_CONVERSATIONS_COLLECTION")
	setInt(&cfg.Chunking.Size, "RAGD_CHUNK_SIZE")
	setInt(&cfg.Chunking.Overlap, "RAGD_CHUNK_OVERLAP")
	setInt(&cfg.Retrieval.TopK, "RAGD_TOP_K")
	setInt(&cfg.Retrieval.ContextBudget, "RAGD_CONTEXT_BUDGET")
	setFloat(&cfg.Clustering.Threshold, "RAGD_CLUSTER_THRESHOLD")
	setInt(&cfg.Cache.Capacity, "RAGD_CACHE_CAPACITY")
	if v, ok := os.LookupEnv("RAGD_CACHE_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
}
