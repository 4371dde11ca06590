package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/synapse/internal/metrics"
)

// Params tunes the engine's scoring, decay, and consolidation behavior.
type Params struct {
	RelationThreshold      float64       // min similarity to wire a semantic edge at store time
	RelevanceThreshold     float64       // min recall score to survive filtering
	ClusterThreshold       float64       // min similarity to join a consolidation cluster
	DecayRate              float64       // importance lost per day since last access
	ReinforcementBoost     float64       // importance gained per recall hit
	ImportanceFloor        float64       // decay never pushes importance below this
	DecayDeleteImportance  float64       // delete candidates must fall below this
	DecayDeleteAge         time.Duration // ...and be stale for at least this long
	StrongImportance       float64       // both endpoints above this get their edge boosted
	RelationBoost          float64       // multiplicative edge strength boost
	PruneThreshold         float64       // edges below this are dropped at consolidation
	ConsolidationThreshold int           // live node count that triggers consolidation
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		RelationThreshold:      0.75,
		RelevanceThreshold:     0.3,
		ClusterThreshold:       0.85,
		DecayRate:              0.01,
		ReinforcementBoost:     0.1,
		ImportanceFloor:        0.1,
		DecayDeleteImportance:  0.2,
		DecayDeleteAge:         30 * 24 * time.Hour,
		StrongImportance:       0.7,
		RelationBoost:          1.1,
		PruneThreshold:         0.2,
		ConsolidationThreshold: 100,
	}
}

// KnowledgeGraph is the single owner of all memory state: the node map, the
// relation list, the advisory cluster map, and the current focus. Every
// mutating operation (Store, Recall's reinforcement, Consolidate, Import,
// Delete, Relate) runs under one mutex. Embedding calls happen before the
// lock is taken so a slow provider never holds the graph.
type KnowledgeGraph struct {
	mu       sync.Mutex
	embedder Embedder
	params   Params
	log      *zap.Logger
	metrics  *metrics.Collector

	nodes     map[string]*MemoryNode
	order     []string // insertion order; clustering iterates it
	relations []MemoryRelation
	clusters  map[string]int // advisory, rebuilt by each consolidation
	focus     string         // seed for FindPath; last store or top recall hit
	dims      int            // embedding dimension, adopted from the first vector

	now func() time.Time
}

// New creates an empty KnowledgeGraph backed by the given embedder.
func New(embedder Embedder, params Params) *KnowledgeGraph {
	return &KnowledgeGraph{
		embedder: embedder,
		params:   params,
		log:      zap.NewNop(),
		nodes:    make(map[string]*MemoryNode),
		clusters: make(map[string]int),
		now:      time.Now,
	}
}

// SetLogger configures structured logging. Nil restores the no-op logger.
func (g *KnowledgeGraph) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	g.log = log
}

// SetMetrics configures the prometheus collector. All engine metric calls
// are nil-safe, so a nil collector disables instrumentation.
func (g *KnowledgeGraph) SetMetrics(c *metrics.Collector) {
	g.metrics = c
}

// Store embeds content, inserts a new node, wires semantic relations to
// every sufficiently similar existing node, and triggers consolidation when
// the live node count reaches the threshold. The embedding happens before
// the lock; a provider failure aborts with *EmbeddingError and no mutation.
func (g *KnowledgeGraph) Store(ctx context.Context, content string, tags []string, source string) (string, error) {
	content = truncateClean(strings.TrimSpace(content), maxContentChars)
	if content == "" {
		return "", ErrEmptyContent
	}

	vec, err := g.embedder.Embed(ctx, content)
	if err != nil {
		return "", &EmbeddingError{Op: "store", Err: err}
	}
	if len(vec) == 0 {
		return "", &EmbeddingError{Op: "store", Err: fmt.Errorf("provider returned empty vector: %w", ErrDimensionMismatch)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dims != 0 && len(vec) != g.dims {
		return "", &EmbeddingError{Op: "store", Err: fmt.Errorf("got %d dimensions, store uses %d: %w", len(vec), g.dims, ErrDimensionMismatch)}
	}
	if g.dims == 0 {
		g.dims = len(vec)
	}

	now := g.now()
	node := &MemoryNode{
		ID:             uuid.NewString(),
		Content:        content,
		Embedding:      vec,
		Importance:     scoreImportance(content, tags),
		CreatedAt:      now,
		AccessCount:    0,
		LastAccessedAt: now,
		Tags:           normalizeTags(tags),
		Source:         source,
	}

	wired := g.wireRelationsLocked(node)

	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	g.focus = node.ID

	g.metrics.NodeStored()
	g.metrics.RelationsCreated(wired)
	g.metrics.SetGraphSize(len(g.nodes), len(g.relations))
	g.log.Debug("stored memory",
		zap.String("id", node.ID),
		zap.Int("relations", wired),
		zap.Float64("importance", node.Importance))

	if len(g.nodes) >= g.params.ConsolidationThreshold {
		res := g.consolidateLocked()
		g.log.Info("consolidation triggered by store",
			zap.String("id", node.ID),
			zap.Int("merged", res.Merged),
			zap.Int("decayed", res.Decayed))
	}

	return node.ID, nil
}

// wireRelationsLocked scans all existing nodes in insertion order and adds a
// semantic edge to every node whose similarity to n exceeds the relation
// threshold. Linear scan per insert; a larger corpus would swap this for an
// ANN index without changing the relation semantics.
func (g *KnowledgeGraph) wireRelationsLocked(n *MemoryNode) int {
	wired := 0
	for _, id := range g.order {
		other := g.nodes[id]
		sim := CosineSimilarity(n.Embedding, other.Embedding)
		if sim <= g.params.RelationThreshold {
			continue
		}
		if g.hasRelationLocked(n.ID, other.ID, RelationSemantic) {
			continue
		}
		g.relations = append(g.relations, MemoryRelation{
			From:      n.ID,
			To:        other.ID,
			Type:      RelationSemantic,
			Strength:  sim,
			CreatedAt: g.now(),
		})
		wired++
	}
	return wired
}

// hasRelationLocked reports whether a relation of the given type exists
// between the unordered pair (a, b).
func (g *KnowledgeGraph) hasRelationLocked(a, b string, t RelationType) bool {
	for i := range g.relations {
		r := &g.relations[i]
		if r.Type != t {
			continue
		}
		if (r.From == a && r.To == b) || (r.From == b && r.To == a) {
			return true
		}
	}
	return false
}

// Get returns a deep copy of the node, if it exists.
func (g *KnowledgeGraph) Get(id string) (MemoryNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return MemoryNode{}, false
	}
	return n.clone(), true
}

// Delete removes a node along with every relation touching it. Returns
// false when the id is unknown.
func (g *KnowledgeGraph) Delete(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	g.removeNodeLocked(id)
	g.metrics.NodesDeleted(1)
	g.metrics.SetGraphSize(len(g.nodes), len(g.relations))
	g.log.Debug("deleted memory", zap.String("id", id))
	return true
}

// removeNodeLocked drops a node, its insertion-order entry, its cluster
// entry, every relation touching it, and the focus if it pointed there.
func (g *KnowledgeGraph) removeNodeLocked(id string) {
	delete(g.nodes, id)
	delete(g.clusters, id)

	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	kept := g.relations[:0]
	for _, r := range g.relations {
		if r.From == id || r.To == id {
			continue
		}
		kept = append(kept, r)
	}
	g.relations = kept

	if g.focus == id {
		g.focus = ""
	}
}

// Relate adds a typed edge between two existing nodes. Strength is clamped
// to [0,1]. Self-loops and duplicate (pair, type) edges are rejected.
func (g *KnowledgeGraph) Relate(from, to string, t RelationType, strength float64) error {
	if !t.Valid() {
		return fmt.Errorf("relation type %q is not in the relation-type set", t)
	}
	if from == to {
		return fmt.Errorf("relation %s -> %s would be a self-loop", from, to)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("relate from %s: %w", from, ErrNodeNotFound)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("relate to %s: %w", to, ErrNodeNotFound)
	}
	if g.hasRelationLocked(from, to, t) {
		return fmt.Errorf("relate %s -> %s (%s): %w", from, to, t, ErrDuplicateRelation)
	}

	g.relations = append(g.relations, MemoryRelation{
		From:      from,
		To:        to,
		Type:      t,
		Strength:  clamp01(strength),
		CreatedAt: g.now(),
	})
	g.metrics.RelationsCreated(1)
	g.metrics.SetGraphSize(len(g.nodes), len(g.relations))
	return nil
}

// ConnectedNode is one entry of GraphSummary.TopConnectedNodes.
type ConnectedNode struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Degree  int    `json:"degree"`
}

// GraphSummary describes the graph's current shape.
type GraphSummary struct {
	NodeCount         int             `json:"node_count"`
	RelationCount     int             `json:"relation_count"`
	ClusterCount      int             `json:"cluster_count"`
	Density           float64         `json:"density"`
	TopConnectedNodes []ConnectedNode `json:"top_connected_nodes"`
}

const topConnectedCount = 5

// Summary reports node/relation/cluster counts, graph density, and the most
// connected nodes. ClusterCount is 0 until the first consolidation builds
// the advisory cluster map.
func (g *KnowledgeGraph) Summary() GraphSummary {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := GraphSummary{
		NodeCount:     len(g.nodes),
		RelationCount: len(g.relations),
	}

	distinct := make(map[int]bool)
	for _, c := range g.clusters {
		distinct[c] = true
	}
	s.ClusterCount = len(distinct)

	n := len(g.nodes)
	if n > 1 {
		s.Density = 2 * float64(len(g.relations)) / (float64(n) * float64(n-1))
	}

	degree := make(map[string]int, n)
	for _, r := range g.relations {
		degree[r.From]++
		degree[r.To]++
	}

	ids := make([]string, 0, n)
	for _, id := range g.order {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if degree[ids[i]] != degree[ids[j]] {
			return degree[ids[i]] > degree[ids[j]]
		}
		return ids[i] < ids[j]
	})
	for i := 0; i < len(ids) && i < topConnectedCount; i++ {
		s.TopConnectedNodes = append(s.TopConnectedNodes, ConnectedNode{
			ID:      ids[i],
			Content: g.nodes[ids[i]].Content,
			Degree:  degree[ids[i]],
		})
	}

	return s
}

// NodeCount returns the number of live nodes.
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}
