package engine

import "sort"

// Association is one node reached by associative traversal.
type Association struct {
	Node     MemoryNode `json:"node"`
	Strength float64    `json:"strength"` // strength of the edge it was discovered through
	Depth    int        `json:"depth"`    // hops from the start node
}

const maxAssociations = 20

// adjEdge is one undirected view of a relation, used by traversal.
type adjEdge struct {
	peer     string
	strength float64
}

// adjacencyLocked builds an undirected adjacency snapshot of the relation
// list. Traversal runs over the snapshot and never touches graph state.
func (g *KnowledgeGraph) adjacencyLocked() map[string][]adjEdge {
	adj := make(map[string][]adjEdge, len(g.nodes))
	for _, r := range g.relations {
		adj[r.From] = append(adj[r.From], adjEdge{peer: r.To, strength: r.Strength})
		adj[r.To] = append(adj[r.To], adjEdge{peer: r.From, strength: r.Strength})
	}
	return adj
}

// hop records one BFS discovery.
type hop struct {
	id       string
	strength float64
	depth    int
}

// breadthFirst walks edges in both directions from start, bounded by
// maxDepth hops and a hard result cap. Cycle-safe via a visited set. Pure:
// it only reads the adjacency snapshot. The start node itself is not a
// result.
func breadthFirst(adj map[string][]adjEdge, start string, maxDepth, limit int) []hop {
	visited := map[string]bool{start: true}
	frontier := []hop{{id: start}}

	var found []hop
	for len(frontier) > 0 && len(found) < limit {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range adj[cur.id] {
			if visited[e.peer] {
				continue
			}
			visited[e.peer] = true
			h := hop{id: e.peer, strength: e.strength, depth: cur.depth + 1}
			found = append(found, h)
			if len(found) >= limit {
				break
			}
			frontier = append(frontier, h)
		}
	}
	return found
}

// bfsPath returns the first-discovered id sequence from start to target,
// shortest by hop count, including both endpoints. Nil when unreachable.
func bfsPath(adj map[string][]adjEdge, start, target string) []string {
	if start == target {
		return []string{start}
	}

	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur] {
			if _, seen := parent[e.peer]; seen {
				continue
			}
			parent[e.peer] = cur
			if e.peer == target {
				var path []string
				for id := target; id != ""; id = parent[id] {
					path = append(path, id)
				}
				// built backwards; reverse in place
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, e.peer)
		}
	}
	return nil
}

// AssociativeRecall walks the relation graph outward from startID, up to
// depth hops (minimum 1), returning at most 20 associations ranked by the
// strength of the edge each node was discovered through. An unknown startID
// yields an empty result; absent memory is a normal condition, not an
// error.
func (g *KnowledgeGraph) AssociativeRecall(startID string, depth int) []Association {
	if depth < 1 {
		depth = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[startID]; !ok {
		return nil
	}

	hops := breadthFirst(g.adjacencyLocked(), startID, depth, maxAssociations)
	sort.Slice(hops, func(i, j int) bool {
		if hops[i].strength != hops[j].strength {
			return hops[i].strength > hops[j].strength
		}
		return hops[i].id < hops[j].id
	})

	out := make([]Association, 0, len(hops))
	for _, h := range hops {
		n, ok := g.nodes[h.id]
		if !ok {
			continue
		}
		out = append(out, Association{Node: n.clone(), Strength: h.strength, Depth: h.depth})
	}
	return out
}

// FindPath returns the shortest relation path (by hop count) from the
// current focus to targetID, or nil when the focus is unset, either id is
// unknown, or the target is unreachable.
func (g *KnowledgeGraph) FindPath(targetID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.findPathLocked(g.focus, targetID)
}

func (g *KnowledgeGraph) findPathLocked(from, to string) []string {
	if from == "" {
		return nil
	}
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}
	return bfsPath(g.adjacencyLocked(), from, to)
}
