package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

// Store persists conversation turns as embedded points and maintains the
// per-session topic clusters over them. The vector store is the source of
// truth; the cluster index is derived state, rebuildable by replay.
type Store struct {
	embedder   *embed.Client
	store      store.VectorStore
	collection string
	clusters   *ClusterIndex

	mu   sync.Mutex
	seq  map[string]int         // session -> next turn ordinal
	lock map[string]*sync.Mutex // session -> serialization lock
}

// NewStore wires a conversation memory store over the given collection.
func NewStore(embedder *embed.Client, st store.VectorStore, collection string, threshold float64) *Store {
	return &Store{
		embedder:   embedder,
		store:      st,
		collection: collection,
		clusters:   NewClusterIndex(threshold),
		seq:        make(map[string]int),
		lock:       make(map[string]*sync.Mutex),
	}
}

func (ms *Store) sessionLock(session string) *sync.Mutex {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	l, ok := ms.lock[session]
	if !ok {
		l = &sync.Mutex{}
		ms.lock[session] = l
	}
	return l
}

// RecordTurn embeds one turn and stores it with its cluster assignment. The
// session lock is held from assignment through commit, so concurrent turns in
// one session keep their ordinals ordered and a failed write leaves the
// cluster index untouched.
func (ms *Store) RecordTurn(ctx context.Context, sessionID, role, text string) error {
	vec, err := ms.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed turn: %w", err)
	}

	l := ms.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	assignment := ms.clusters.Propose(sessionID, vec)

	ms.mu.Lock()
	turn := ms.seq[sessionID]
	ms.mu.Unlock()

	now := time.Now().UTC()
	point := store.Point{
		ID:     uuid.NewString(),
		Vector: vec,
		Payload: map[string]any{
			"session_id": sessionID,
			"role":       role,
			"text":       text,
			"cluster_id": assignment.ClusterID,
			"turn":       turn,
			"timestamp":  now.Format(time.RFC3339Nano),
		},
	}
	if err := ms.store.Upsert(ctx, ms.collection, []store.Point{point}); err != nil {
		return fmt.Errorf("store turn: %w", err)
	}

	ms.clusters.Commit(sessionID, assignment, vec, text, now)
	ms.mu.Lock()
	ms.seq[sessionID] = turn + 1
	ms.mu.Unlock()
	return nil
}

// SimilaritySearch returns the most similar past turns for a query. An empty
// sessionID means unscoped: the search spans every session.
func (ms *Store) SimilaritySearch(ctx context.Context, sessionID, query string, topK int) ([]store.Result, error) {
	vec, err := ms.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := ms.store.Search(ctx, ms.collection, vec, topK, sessionFilter(sessionID))
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	return results, nil
}

// RecentContext returns the session's last n turns in chronological order,
// straight from the store. It needs no embedding, so it still works while the
// embedding backend is down. An empty sessionID spans every session.
func (ms *Store) RecentContext(ctx context.Context, sessionID string, n int) ([]store.Point, error) {
	if n <= 0 {
		n = 5
	}
	points, err := ms.store.List(ctx, ms.collection, sessionFilter(sessionID), 0)
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}
	sortByTurn(points)
	if len(points) > n {
		points = points[len(points)-n:]
	}
	return points, nil
}

// Topics lists conversation topics, most recent first. An empty sessionID
// aggregates the topics of every session.
func (ms *Store) Topics(sessionID string) []Topic {
	return ms.clusters.Topics(sessionID)
}

func sessionFilter(sessionID string) store.Filter {
	if sessionID == "" {
		return nil
	}
	return store.Filter{"session_id": sessionID}
}

// Rebuild reconstructs the cluster index and turn ordinals by replaying every
// stored turn in recorded order. Used at startup; the vector store is
// authoritative.
func (ms *Store) Rebuild(ctx context.Context) error {
	points, err := ms.store.List(ctx, ms.collection, nil, 0)
	if err != nil {
		return fmt.Errorf("list turns: %w", err)
	}
	sortByTurn(points)

	ms.clusters.Reset()
	ms.mu.Lock()
	ms.seq = make(map[string]int)
	ms.mu.Unlock()

	for _, p := range points {
		session, _ := p.Payload["session_id"].(string)
		if session == "" || len(p.Vector) == 0 {
			continue
		}
		text, _ := p.Payload["text"].(string)
		at := parseTimestamp(p.Payload["timestamp"])

		assignment := ms.clusters.Propose(session, p.Vector)
		ms.clusters.Commit(session, assignment, p.Vector, text, at)

		ms.mu.Lock()
		if turn := payloadInt(p.Payload["turn"]); turn >= ms.seq[session] {
			ms.seq[session] = turn + 1
		}
		ms.mu.Unlock()
	}
	log.Printf("memory: rebuilt cluster index from %d stored turn(s)", len(points))
	return nil
}

func sortByTurn(points []store.Point) {
	sort.SliceStable(points, func(i, j int) bool {
		ti, tj := payloadInt(points[i].Payload["turn"]), payloadInt(points[j].Payload["turn"])
		if ti != tj {
			return ti < tj
		}
		return parseTimestamp(points[i].Payload["timestamp"]).Before(parseTimestamp(points[j].Payload["timestamp"]))
	})
}

// payloadInt tolerates the numeric types a JSON round-trip can produce.
func payloadInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

func parseTimestamp(v any) time.Time {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
