package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the full export of a knowledge graph. Nodes appear in
// insertion order; the order is part of the contract, because greedy
// clustering is order-dependent and an import must reproduce the same
// consolidation behavior. The cluster map is advisory (last computed, not
// authoritative).
type Snapshot struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Dimensions int              `json:"dimensions"`
	Nodes      []MemoryNode     `json:"nodes"`
	Relations  []MemoryRelation `json:"relations"`
	Clusters   map[string]int   `json:"clusters,omitempty"`
	Focus      string           `json:"focus,omitempty"`
}

// Export returns a deep copy of the full graph state.
func (g *KnowledgeGraph) Export() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: g.now(),
		Dimensions: g.dims,
		Nodes:      make([]MemoryNode, 0, len(g.order)),
		Relations:  append([]MemoryRelation(nil), g.relations...),
		Focus:      g.focus,
	}
	for _, id := range g.order {
		snap.Nodes = append(snap.Nodes, g.nodes[id].clone())
	}
	if len(g.clusters) > 0 {
		snap.Clusters = make(map[string]int, len(g.clusters))
		for id, c := range g.clusters {
			snap.Clusters[id] = c
		}
	}
	return snap
}

// Import replaces the graph wholesale with the snapshot's contents. The
// snapshot is fully validated first (unique ids, consistent embedding
// dimensions, known relation types, live endpoints, values in range) and
// any violation returns an error wrapping ErrInvalidSnapshot with the
// current graph untouched. An unknown focus id is cleared, not rejected.
func (g *KnowledgeGraph) Import(snap Snapshot) error {
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("snapshot version %d is newer than supported %d: %w", snap.Version, SnapshotVersion, ErrInvalidSnapshot)
	}

	dims := snap.Dimensions
	nodes := make(map[string]*MemoryNode, len(snap.Nodes))
	order := make([]string, 0, len(snap.Nodes))
	for i := range snap.Nodes {
		n := snap.Nodes[i].clone()
		if n.ID == "" {
			return fmt.Errorf("node %d has empty id: %w", i, ErrInvalidSnapshot)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("duplicate node id %s: %w", n.ID, ErrInvalidSnapshot)
		}
		if dims == 0 {
			dims = len(n.Embedding)
		}
		if len(n.Embedding) != dims {
			return fmt.Errorf("node %s has %d embedding dimensions, snapshot uses %d: %w", n.ID, len(n.Embedding), dims, ErrInvalidSnapshot)
		}
		if n.Importance < 0 || n.Importance > 1 {
			return fmt.Errorf("node %s importance %f out of range: %w", n.ID, n.Importance, ErrInvalidSnapshot)
		}
		n.Tags = normalizeTags(n.Tags)
		nodes[n.ID] = &n
		order = append(order, n.ID)
	}

	relations := make([]MemoryRelation, 0, len(snap.Relations))
	for i, r := range snap.Relations {
		if !r.Type.Valid() {
			return fmt.Errorf("relation %d has unknown type %q: %w", i, r.Type, ErrInvalidSnapshot)
		}
		if _, ok := nodes[r.From]; !ok {
			return fmt.Errorf("relation %d references unknown node %s: %w", i, r.From, ErrInvalidSnapshot)
		}
		if _, ok := nodes[r.To]; !ok {
			return fmt.Errorf("relation %d references unknown node %s: %w", i, r.To, ErrInvalidSnapshot)
		}
		if r.Strength < 0 || r.Strength > 1 {
			return fmt.Errorf("relation %d strength %f out of range: %w", i, r.Strength, ErrInvalidSnapshot)
		}
		relations = append(relations, r)
	}

	clusters := make(map[string]int, len(snap.Clusters))
	for id, c := range snap.Clusters {
		if _, ok := nodes[id]; !ok {
			continue // stale advisory entry; drop rather than reject
		}
		clusters[id] = c
	}

	focus := snap.Focus
	if _, ok := nodes[focus]; !ok {
		focus = ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = nodes
	g.order = order
	g.relations = relations
	g.clusters = clusters
	g.focus = focus
	g.dims = dims

	g.metrics.SetGraphSize(len(g.nodes), len(g.relations))
	g.log.Info("imported snapshot",
		zap.Int("nodes", len(nodes)),
		zap.Int("relations", len(relations)))
	return nil
}
