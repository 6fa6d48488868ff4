package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

// DefaultThreshold is the minimum cosine similarity for a turn to join an
// existing topic cluster.
const DefaultThreshold = 0.80

// Cluster is one conversational topic: a running-mean centroid over the
// embeddings of every turn assigned to it.
type Cluster struct {
	ID        int
	Centroid  []float32
	Size      int
	LastText  string
	UpdatedAt time.Time
}

// Topic is the read-only view of a cluster returned to callers.
type Topic struct {
	ID        int       `json:"id"`
	Size      int       `json:"size"`
	LastText  string    `json:"last_text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment is a proposed cluster placement. It has no effect until
// committed, so a failed write downstream leaves the index untouched.
type Assignment struct {
	ClusterID int
	New       bool
}

// ClusterIndex assigns turn embeddings to per-session topic clusters online.
// It is rebuildable: replaying committed turns in order reproduces it exactly.
type ClusterIndex struct {
	mu        sync.RWMutex
	threshold float64
	sessions  map[string][]*Cluster
	nextID    int
}

func NewClusterIndex(threshold float64) *ClusterIndex {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &ClusterIndex{
		threshold: threshold,
		sessions:  make(map[string][]*Cluster),
	}
}

// Propose finds the best cluster for vec within the session, or reserves a
// fresh cluster ID when nothing clears the similarity threshold.
func (ci *ClusterIndex) Propose(session string, vec []float32) Assignment {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	best := -1
	bestScore := ci.threshold
	for i, c := range ci.sessions[session] {
		if score := store.CosineSimilarity(vec, c.Centroid); score >= bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return Assignment{ClusterID: ci.sessions[session][best].ID}
	}
	id := ci.nextID
	ci.nextID++
	return Assignment{ClusterID: id, New: true}
}

// Commit applies a proposed assignment. For an existing cluster the centroid
// moves by the running mean: centroid += (vec - centroid) / n.
func (ci *ClusterIndex) Commit(session string, a Assignment, vec []float32, text string, at time.Time) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if a.New {
		centroid := make([]float32, len(vec))
		copy(centroid, vec)
		ci.sessions[session] = append(ci.sessions[session], &Cluster{
			ID:        a.ClusterID,
			Centroid:  centroid,
			Size:      1,
			LastText:  text,
			UpdatedAt: at,
		})
		return
	}
	for _, c := range ci.sessions[session] {
		if c.ID != a.ClusterID {
			continue
		}
		c.Size++
		n := float32(c.Size)
		for i := range c.Centroid {
			if i < len(vec) {
				c.Centroid[i] += (vec[i] - c.Centroid[i]) / n
			}
		}
		c.LastText = text
		c.UpdatedAt = at
		return
	}
}

// Topics lists the session's clusters, most recently updated first. An empty
// session aggregates the clusters of every session.
func (ci *ClusterIndex) Topics(session string) []Topic {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var clusters []*Cluster
	if session == "" {
		for _, cs := range ci.sessions {
			clusters = append(clusters, cs...)
		}
	} else {
		clusters = ci.sessions[session]
	}
	topics := make([]Topic, 0, len(clusters))
	for _, c := range clusters {
		topics = append(topics, Topic{
			ID:        c.ID,
			Size:      c.Size,
			LastText:  c.LastText,
			UpdatedAt: c.UpdatedAt,
		})
	}
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].UpdatedAt.After(topics[j].UpdatedAt)
	})
	return topics
}

// Reset drops all clusters, typically before a replay.
func (ci *ClusterIndex) Reset() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.sessions = make(map[string][]*Cluster)
	ci.nextID = 0
}
