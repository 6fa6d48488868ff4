package store

import (
	"context"
	"fmt"
	"strings"

	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	json "github.com/alpkeskin/gotoon"
)

// Neo4jStore implements VectorStore on Neo4j's native vector indexes.
// Points become nodes labeled by collection; payloads are stored as a JSON
// property so arbitrary nesting survives the property-graph model.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

func (ns *Neo4jStore) Close(ctx context.Context) error {
	return ns.driver.Close(ctx)
}

func (ns *Neo4jStore) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := ns.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: ns.database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func (ns *Neo4jStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrWrite, dimension)
	}
	label := nodeLabel(name)
	query := fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
                FOR (p:%s) ON (p.embedding)
                OPTIONS {indexConfig: {
                        `+"`vector.dimensions`"+`: $dim,
                        `+"`vector.similarity_function`"+`: 'cosine'
                }}`, indexName(name), label)
	if _, err := ns.run(ctx, neo4j.AccessModeWrite, query, map[string]any{"dim": dimension}); err != nil {
		return fmt.Errorf("%w: ensure %s: %v", ErrWrite, name, err)
	}
	return nil
}

func (ns *Neo4jStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := ns.run(ctx, neo4j.AccessModeWrite,
		fmt.Sprintf("MATCH (p:%s) DETACH DELETE p", nodeLabel(name)), nil); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrWrite, name, err)
	}
	if _, err := ns.run(ctx, neo4j.AccessModeWrite,
		fmt.Sprintf("DROP INDEX %s IF EXISTS", indexName(name)), nil); err != nil {
		return fmt.Errorf("%w: drop index for %s: %v", ErrWrite, name, err)
	}
	return nil
}

func (ns *Neo4jStore) Upsert(ctx context.Context, collection string, points []Point) error {
	label := nodeLabel(collection)
	query := fmt.Sprintf(`MERGE (p:%s {id: $id})
                SET p.payload = $payload
                WITH p CALL db.create.setNodeVectorProperty(p, 'embedding', $embedding)
                RETURN p.id`, label)
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload: %v", ErrWrite, err)
		}
		params := map[string]any{
			"id":        p.ID,
			"payload":   string(payload),
			"embedding": float64Embedding(p.Vector),
		}
		if _, err := ns.run(ctx, neo4j.AccessModeWrite, query, params); err != nil {
			return fmt.Errorf("%w: upsert into %s: %v", ErrWrite, collection, err)
		}
	}
	return nil
}

func (ns *Neo4jStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	// Oversample, then apply equality predicates on the decoded payload;
	// the vector index itself cannot filter.
	query := `CALL db.index.vector.queryNodes($index, $k, $embedding)
                YIELD node, score
                RETURN node.id AS id, node.payload AS payload, score
                ORDER BY score DESC`
	params := map[string]any{
		"index":     indexName(collection),
		"k":         topK * 4,
		"embedding": float64Embedding(vector),
	}
	records, err := ns.run(ctx, neo4j.AccessModeRead, query, params)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such index") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: search %s: %v", ErrRead, collection, err)
	}
	var results []Result
	for _, rec := range records {
		res, ok := decodeNeo4jRecord(rec)
		if !ok || !filter.Matches(res.Payload) {
			continue
		}
		results = append(results, res)
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func (ns *Neo4jStore) Count(ctx context.Context, collection string) (int, error) {
	records, err := ns.run(ctx, neo4j.AccessModeRead,
		fmt.Sprintf("MATCH (p:%s) RETURN count(p) AS n", nodeLabel(collection)), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrRead, collection, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if n, ok := records[0].Get("n"); ok {
		if v, ok := n.(int64); ok {
			return int(v), nil
		}
	}
	return 0, nil
}

func (ns *Neo4jStore) List(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`MATCH (p:%s)
                RETURN p.id AS id, p.payload AS payload, p.embedding AS embedding
                ORDER BY p.id LIMIT $limit`, nodeLabel(collection))
	records, err := ns.run(ctx, neo4j.AccessModeRead, query, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrRead, collection, err)
	}
	var points []Point
	for _, rec := range records {
		id, _ := rec.Get("id")
		payloadRaw, _ := rec.Get("payload")
		embeddingRaw, _ := rec.Get("embedding")

		payload := decodeJSONPayload(payloadRaw)
		if !filter.Matches(payload) {
			continue
		}
		points = append(points, Point{
			ID:      fmt.Sprint(id),
			Vector:  anySliceToF32(embeddingRaw),
			Payload: payload,
		})
	}
	return points, nil
}

func decodeNeo4jRecord(rec *neo4j.Record) (Result, bool) {
	id, ok := rec.Get("id")
	if !ok {
		return Result{}, false
	}
	payloadRaw, _ := rec.Get("payload")
	scoreRaw, _ := rec.Get("score")
	score, _ := scoreRaw.(float64)
	return Result{
		ID:      fmt.Sprint(id),
		Score:   score,
		Payload: decodeJSONPayload(payloadRaw),
	}, true
}

func decodeJSONPayload(raw any) map[string]any {
	text, ok := raw.(string)
	if !ok || text == "" {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func anySliceToF32(raw any) []float32 {
	switch vals := raw.(type) {
	case []float32:
		return vals
	case []float64:
		return float32Embedding(vals)
	case []any:
		out := make([]float32, 0, len(vals))
		for _, v := range vals {
			if f, ok := v.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	default:
		return nil
	}
}

func nodeLabel(collection string) string {
	return "Rag_" + sanitizeIdent(collection)
}

func indexName(collection string) string {
	return "rag_vec_" + sanitizeIdent(collection)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ VectorStore = (*Neo4jStore)(nil)
