package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	json "github.com/alpkeskin/gotoon"
)

// PostgresStore implements VectorStore using Postgres + pgvector.
// Each collection maps to its own table (rag_<collection>) so every
// collection keeps one fixed vector dimensionality.
type PostgresStore struct {
	DB *pgxpool.Pool

	mu      sync.Mutex
	dims    map[string]int
	created map[string]bool
}

// NewPostgresStore connects to Postgres and returns a pgvector-backed store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{
		DB:      db,
		dims:    make(map[string]int),
		created: make(map[string]bool),
	}, nil
}

func (ps *PostgresStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrWrite, dimension)
	}
	ps.mu.Lock()
	ps.dims[name] = dimension
	ps.mu.Unlock()
	return ps.createTable(ctx, name, dimension)
}

func (ps *PostgresStore) createTable(ctx context.Context, name string, dimension int) error {
	tbl := tableName(name)
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                        id TEXT PRIMARY KEY,
                        embedding vector(%d),
                        payload JSONB NOT NULL DEFAULT '{}'::jsonb
                )`, tbl, dimension),
	}
	for _, stmt := range stmts {
		if _, err := ps.DB.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure %s: %v", ErrWrite, name, err)
		}
	}
	ps.mu.Lock()
	ps.created[name] = true
	ps.mu.Unlock()
	return nil
}

func (ps *PostgresStore) ensureLazy(ctx context.Context, name string) error {
	ps.mu.Lock()
	done := ps.created[name]
	dim, registered := ps.dims[name]
	ps.mu.Unlock()
	if done || !registered {
		return nil
	}
	return ps.createTable(ctx, name, dim)
}

func (ps *PostgresStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := ps.DB.Exec(ctx, "DROP TABLE IF EXISTS "+tableName(name)); err != nil {
		return fmt.Errorf("%w: drop %s: %v", ErrWrite, name, err)
	}
	ps.mu.Lock()
	delete(ps.created, name)
	delete(ps.dims, name)
	ps.mu.Unlock()
	return nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ps.ensureLazy(ctx, collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`
                INSERT INTO %s (id, embedding, payload)
                VALUES ($1, $2::vector, $3::jsonb)
                ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
        `, tableName(collection))
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload: %v", ErrWrite, err)
		}
		if _, err := ps.DB.Exec(ctx, query, p.ID, vectorLiteral(p.Vector), string(payload)); err != nil {
			return fmt.Errorf("%w: upsert into %s: %v", ErrWrite, collection, err)
		}
	}
	return nil
}

func (ps *PostgresStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := ps.ensureLazy(ctx, collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	query := fmt.Sprintf(`
                SELECT id, payload::text, 1 - (embedding <=> $1::vector) AS score
                FROM %s
        `, tableName(collection))
	args := []any{vectorLiteral(vector)}
	if len(filter) > 0 {
		cond, err := json.Marshal(map[string]any(filter))
		if err != nil {
			return nil, fmt.Errorf("%w: marshal filter: %v", ErrRead, err)
		}
		query += " WHERE payload @> $2::jsonb"
		args = append(args, string(cond))
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT %d", topK)

	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrRead, collection, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			res         Result
			payloadText string
		)
		if err := rows.Scan(&res.ID, &payloadText, &res.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrRead, err)
		}
		res.Payload = decodePayload(payloadText)
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, rows.Err()
}

func (ps *PostgresStore) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := ps.DB.QueryRow(ctx, "SELECT COUNT(*) FROM "+tableName(collection)).Scan(&count)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count %s: %v", ErrRead, collection, err)
	}
	return count, nil
}

func (ps *PostgresStore) List(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf("SELECT id, payload::text, embedding::text FROM %s", tableName(collection))
	args := []any{}
	if len(filter) > 0 {
		cond, err := json.Marshal(map[string]any(filter))
		if err != nil {
			return nil, fmt.Errorf("%w: marshal filter: %v", ErrRead, err)
		}
		query += " WHERE payload @> $1::jsonb"
		args = append(args, string(cond))
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT %d", limit)

	rows, err := ps.DB.Query(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrRead, collection, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p             Point
			payloadText   string
			embeddingText string
		)
		if err := rows.Scan(&p.ID, &payloadText, &embeddingText); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrRead, err)
		}
		p.Payload = decodePayload(payloadText)
		p.Vector = parseVector(embeddingText)
		points = append(points, p)
	}
	return points, rows.Err()
}

// tableName maps a collection to a safe SQL identifier.
func tableName(collection string) string {
	var b strings.Builder
	b.WriteString("rag_")
	for _, r := range strings.ToLower(collection) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// vectorLiteral renders a pgvector text literal, e.g. "[0.1,0.2]".
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(text string) []float32 {
	text = strings.Trim(strings.TrimSpace(text), "[]")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}

func decodePayload(text string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

var _ VectorStore = (*PostgresStore)(nil)
