package engine

import (
	"context"
	"math"
	"sort"
	"time"
)

// RecallResult is one ranked memory returned by Recall.
type RecallResult struct {
	Node            MemoryNode    `json:"node"`
	Relevance       float64       `json:"relevance"`        // score before reinforcement applied
	AssociationPath []string      `json:"association_path"` // path from the pre-recall focus, empty if unreachable
	Context         []Association `json:"context"`          // up to 3 strongest direct neighbors
}

const (
	defaultRecallLimit = 10
	contextNeighbors   = 3
	hoursPerDay        = 24
)

// timeDecay returns the decay factor for a node at the given instant:
// min(1, daysSinceLastAccess * rate). Fractional days count.
func timeDecay(lastAccess, now time.Time, rate float64) float64 {
	days := now.Sub(lastAccess).Hours() / hoursPerDay
	if days < 0 {
		days = 0
	}
	return math.Min(1, days*rate)
}

// Recall ranks all nodes against the query embedding and returns the top
// limit results, each enriched with contextual neighbors and an association
// path from the previous focus.
//
// Recall is a write: every node whose score clears the relevance threshold,
// not only the returned top results, is reinforced exactly once
// (access count +1, last access reset, importance raised by the boost,
// capped at 1). Recalling a memory strengthens it; this is the engine's
// availability heuristic, not a side effect to optimize away. The top hit
// becomes the new focus.
func (g *KnowledgeGraph) Recall(ctx context.Context, query string, limit int) ([]RecallResult, error) {
	if limit <= 0 {
		limit = defaultRecallLimit
	}

	queryVec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &EmbeddingError{Op: "recall", Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	type candidate struct {
		id    string
		score float64
	}
	var candidates []candidate
	for _, id := range g.order {
		n := g.nodes[id]
		score := CosineSimilarity(queryVec, n.Embedding) * n.Importance * (1 - timeDecay(n.LastAccessedAt, now, g.params.DecayRate))
		if score > g.params.RelevanceThreshold {
			candidates = append(candidates, candidate{id: id, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if g.nodes[a.id].Importance != g.nodes[b.id].Importance {
			return g.nodes[a.id].Importance > g.nodes[b.id].Importance
		}
		return a.id < b.id
	})

	// Reinforce every thresholded candidate before building result copies,
	// so returned nodes reflect post-reinforcement state while Relevance
	// keeps the pre-reinforcement score.
	for _, c := range candidates {
		n := g.nodes[c.id]
		n.AccessCount++
		n.LastAccessedAt = now
		n.Importance = math.Min(1, n.Importance+g.params.ReinforcementBoost)
	}

	prevFocus := g.focus
	adj := g.adjacencyLocked()

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]RecallResult, 0, len(candidates))
	for _, c := range candidates {
		n := g.nodes[c.id]
		results = append(results, RecallResult{
			Node:            n.clone(),
			Relevance:       c.score,
			AssociationPath: g.pathFromLocked(adj, prevFocus, c.id),
			Context:         g.contextNeighborsLocked(adj, c.id),
		})
	}

	if len(results) > 0 {
		g.focus = results[0].Node.ID
	}

	g.metrics.Recall()
	return results, nil
}

// pathFromLocked is bfsPath guarded against an unset or stale focus.
func (g *KnowledgeGraph) pathFromLocked(adj map[string][]adjEdge, from, to string) []string {
	if from == "" {
		return nil
	}
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	return bfsPath(adj, from, to)
}

// contextNeighborsLocked returns up to 3 direct neighbors ranked by edge
// strength, ties broken by smaller id.
func (g *KnowledgeGraph) contextNeighborsLocked(adj map[string][]adjEdge, id string) []Association {
	edges := append([]adjEdge(nil), adj[id]...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].strength != edges[j].strength {
			return edges[i].strength > edges[j].strength
		}
		return edges[i].peer < edges[j].peer
	})

	var out []Association
	for _, e := range edges {
		n, ok := g.nodes[e.peer]
		if !ok {
			continue
		}
		out = append(out, Association{Node: n.clone(), Strength: e.strength, Depth: 1})
		if len(out) == contextNeighbors {
			break
		}
	}
	return out
}
