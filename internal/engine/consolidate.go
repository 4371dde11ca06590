package engine

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ConsolidationResult reports what one consolidation pass did.
type ConsolidationResult struct {
	Clusters              int           `json:"clusters"`
	Merged                int           `json:"merged"`
	Decayed               int           `json:"decayed"`
	RelationsRewritten    int           `json:"relations_rewritten"`
	RelationsStrengthened int           `json:"relations_strengthened"`
	RelationsPruned       int           `json:"relations_pruned"`
	Duration              time.Duration `json:"duration"`
}

// Consolidate runs the maintenance pipeline: cluster, merge, decay,
// strengthen/prune. The four passes run in order under the writer lock, so
// consolidations serialize with each other and with inserts; all deletions
// happen only after rewiring is complete. Store triggers this automatically
// at the consolidation threshold; callers may also run it on demand.
func (g *KnowledgeGraph) Consolidate() ConsolidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consolidateLocked()
}

func (g *KnowledgeGraph) consolidateLocked() ConsolidationResult {
	start := time.Now()
	var res ConsolidationResult

	clusters := g.clusterPassLocked()
	res.Clusters = len(clusters)

	res.Merged, res.RelationsRewritten = g.mergePassLocked(clusters)
	g.assertNoDanglingLocked()

	res.Decayed = g.decayPassLocked()
	res.RelationsStrengthened, res.RelationsPruned = g.relationPassLocked()

	res.Duration = time.Since(start)

	g.metrics.NodesMerged(res.Merged)
	g.metrics.NodesDeleted(res.Decayed)
	g.metrics.RelationsPruned(res.RelationsPruned)
	g.metrics.Consolidation(res.Duration)
	g.metrics.SetGraphSize(len(g.nodes), len(g.relations))
	g.log.Info("consolidation complete",
		zap.Int("clusters", res.Clusters),
		zap.Int("merged", res.Merged),
		zap.Int("decayed", res.Decayed),
		zap.Int("pruned", res.RelationsPruned),
		zap.Duration("duration", res.Duration))

	return res
}

// clusterPassLocked partitions nodes with a single greedy sweep in insertion
// order: each unclaimed node seeds a cluster and claims every later
// unclaimed node whose similarity to the seed exceeds the cluster threshold.
// Greedy-online and order-dependent; insertion order makes it deterministic
// for a given store history. Rebuilds the advisory cluster map, singletons
// included. O(n²), acceptable at consolidation boundaries.
func (g *KnowledgeGraph) clusterPassLocked() [][]string {
	claimed := make(map[string]bool, len(g.order))
	g.clusters = make(map[string]int, len(g.order))

	var clusters [][]string
	for i, seedID := range g.order {
		if claimed[seedID] {
			continue
		}
		claimed[seedID] = true
		cluster := []string{seedID}
		seed := g.nodes[seedID]

		for _, otherID := range g.order[i+1:] {
			if claimed[otherID] {
				continue
			}
			if CosineSimilarity(seed.Embedding, g.nodes[otherID].Embedding) > g.params.ClusterThreshold {
				claimed[otherID] = true
				cluster = append(cluster, otherID)
			}
		}

		idx := len(clusters)
		for _, id := range cluster {
			g.clusters[id] = idx
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// mergePassLocked absorbs every multi-member cluster into its
// highest-importance member: tags union into the primary, every relation
// endpoint is rewritten from duplicate to primary (dropped instead when that
// would self-loop, collapsed to the higher strength when it would duplicate
// an existing edge), and only then are the duplicates deleted.
// Rewrite-before-delete is the invariant that keeps relations dangle-free.
func (g *KnowledgeGraph) mergePassLocked(clusters [][]string) (merged, rewritten int) {
	replaced := make(map[string]string) // duplicate id -> primary id
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		primary := cluster[0]
		for _, id := range cluster[1:] {
			n, p := g.nodes[id], g.nodes[primary]
			if n.Importance > p.Importance || (n.Importance == p.Importance && id < primary) {
				primary = id
			}
		}
		for _, id := range cluster {
			if id == primary {
				continue
			}
			p := g.nodes[primary]
			p.Tags = unionTags(p.Tags, g.nodes[id].Tags)
			replaced[id] = primary
			g.log.Debug("merging duplicate",
				zap.String("duplicate", id),
				zap.String("primary", primary))
		}
	}
	if len(replaced) == 0 {
		return 0, 0
	}

	type pairKey struct {
		a, b string
		t    RelationType
	}
	seen := make(map[pairKey]int, len(g.relations))
	kept := make([]MemoryRelation, 0, len(g.relations))
	for _, r := range g.relations {
		from, to := r.From, r.To
		changed := false
		if p, ok := replaced[from]; ok {
			from, changed = p, true
		}
		if p, ok := replaced[to]; ok {
			to, changed = p, true
		}
		if from == to {
			// rewriting would self-loop; drop the edge instead
			rewritten++
			continue
		}
		if changed {
			rewritten++
		}

		a, b := from, to
		if a > b {
			a, b = b, a
		}
		k := pairKey{a: a, b: b, t: r.Type}
		if idx, ok := seen[k]; ok {
			if r.Strength > kept[idx].Strength {
				kept[idx].Strength = r.Strength
			}
			continue
		}
		r.From, r.To = from, to
		seen[k] = len(kept)
		kept = append(kept, r)
	}
	g.relations = kept

	// All rewiring done; deleting the duplicates is now safe.
	for id, primary := range replaced {
		if g.focus == id {
			g.focus = primary
		}
		delete(g.nodes, id)
		delete(g.clusters, id)
	}
	order := g.order[:0]
	for _, id := range g.order {
		if _, gone := replaced[id]; !gone {
			order = append(order, id)
		}
	}
	g.order = order

	return len(replaced), rewritten
}

// assertNoDanglingLocked verifies the post-merge invariant that every
// relation references live nodes. A violation is a bug in the merge pass,
// never a recoverable condition.
func (g *KnowledgeGraph) assertNoDanglingLocked() {
	for _, r := range g.relations {
		if _, ok := g.nodes[r.From]; !ok {
			panic(fmt.Sprintf("dangling relation after merge: %s -> %s references deleted node %s", r.From, r.To, r.From))
		}
		if _, ok := g.nodes[r.To]; !ok {
			panic(fmt.Sprintf("dangling relation after merge: %s -> %s references deleted node %s", r.From, r.To, r.To))
		}
	}
}

// decayPassLocked reduces each surviving node's importance in proportion to
// its staleness, floored. A node is deleted only when its post-decay
// importance falls below the delete threshold AND it has been stale longer
// than the age threshold. Both conditions, so a recently reinforced old
// memory survives.
func (g *KnowledgeGraph) decayPassLocked() int {
	now := g.now()
	deleted := 0
	for _, id := range append([]string(nil), g.order...) {
		n := g.nodes[id]
		staleness := now.Sub(n.LastAccessedAt)

		factor := timeDecay(n.LastAccessedAt, now, g.params.DecayRate)
		n.Importance = math.Max(g.params.ImportanceFloor, n.Importance*(1-factor))

		if n.Importance < g.params.DecayDeleteImportance && staleness > g.params.DecayDeleteAge {
			g.removeNodeLocked(id)
			deleted++
			g.log.Debug("decayed memory removed",
				zap.String("id", id),
				zap.Duration("staleness", staleness))
		}
	}
	return deleted
}

// relationPassLocked boosts edges whose both endpoints are strongly
// important, then prunes every edge whose strength fell below the prune
// threshold.
func (g *KnowledgeGraph) relationPassLocked() (strengthened, pruned int) {
	for i := range g.relations {
		r := &g.relations[i]
		from, to := g.nodes[r.From], g.nodes[r.To]
		if from.Importance > g.params.StrongImportance && to.Importance > g.params.StrongImportance {
			r.Strength = math.Min(1, r.Strength*g.params.RelationBoost)
			strengthened++
		}
	}

	kept := g.relations[:0]
	for _, r := range g.relations {
		if r.Strength < g.params.PruneThreshold {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	g.relations = kept
	return strengthened, pruned
}
