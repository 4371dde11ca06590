package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestRecallRanksAndReturns(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"The sky is blue":                     {1, 0, 0},
		"The sky appears blue during the day": sim09,
		"sky color":                           {1, 0, 0},
	})
	a := mustStore(t, g, "The sky is blue", nil, "")
	mustStore(t, g, "The sky appears blue during the day", nil, "")

	results, err := g.Recall(context.Background(), "sky color", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	// Query vector equals a's embedding, so a scores highest.
	if results[0].Node.ID != a {
		t.Errorf("top result = %s, want %s", results[0].Node.ID, a)
	}
	if results[0].Relevance <= 0 {
		t.Errorf("relevance = %f, want > 0", results[0].Relevance)
	}
}

func TestRecallReinforcesAllCandidates(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"The sky is blue":                     {1, 0, 0},
		"The sky appears blue during the day": sim09,
		"sky color":                           {1, 0, 0},
	})
	a := mustStore(t, g, "The sky is blue", nil, "")
	b := mustStore(t, g, "The sky appears blue during the day", nil, "")

	beforeA, _ := g.Get(a)
	beforeB, _ := g.Get(b)

	// limit 1 returns only the top hit, but BOTH thresholded candidates
	// are reinforced; recall strengthens everything it considered relevant.
	results, err := g.Recall(context.Background(), "sky color", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	afterA, _ := g.Get(a)
	afterB, _ := g.Get(b)

	if afterA.AccessCount != beforeA.AccessCount+1 {
		t.Errorf("a access count = %d, want %d", afterA.AccessCount, beforeA.AccessCount+1)
	}
	if afterB.AccessCount != beforeB.AccessCount+1 {
		t.Errorf("b access count = %d, want %d", afterB.AccessCount, beforeB.AccessCount+1)
	}
	if afterA.Importance < beforeA.Importance {
		t.Errorf("a importance decreased: %f -> %f", beforeA.Importance, afterA.Importance)
	}
	if afterB.Importance < beforeB.Importance {
		t.Errorf("b importance decreased: %f -> %f", beforeB.Importance, afterB.Importance)
	}

	// Returned node reflects post-reinforcement state.
	if results[0].Node.AccessCount != afterA.AccessCount {
		t.Errorf("returned access count = %d, want %d", results[0].Node.AccessCount, afterA.AccessCount)
	}
}

func TestRecallImportanceCapped(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"memory": {1, 0, 0},
		"query":  {1, 0, 0},
	})
	id := mustStore(t, g, "memory", nil, "")
	g.nodes[id].Importance = 0.99

	for i := 0; i < 3; i++ {
		if _, err := g.Recall(context.Background(), "query", 5); err != nil {
			t.Fatalf("Recall: %v", err)
		}
	}

	n, _ := g.Get(id)
	if n.Importance > 1 {
		t.Errorf("importance = %f, want capped at 1", n.Importance)
	}
	if n.AccessCount != 3 {
		t.Errorf("access count = %d, want 3", n.AccessCount)
	}
}

func TestRecallThresholdFilters(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"relevant":  {1, 0, 0},
		"unrelated": {0, 0, 1},
		"query":     {1, 0, 0},
	})
	mustStore(t, g, "relevant", nil, "")
	other := mustStore(t, g, "unrelated", nil, "")

	results, err := g.Recall(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for _, r := range results {
		if r.Node.ID == other {
			t.Error("below-threshold node returned")
		}
	}

	// Sub-threshold nodes are not reinforced either.
	n, _ := g.Get(other)
	if n.AccessCount != 0 {
		t.Errorf("unrelated access count = %d, want 0", n.AccessCount)
	}
}

func TestRecallDecayLowersScore(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"memory": {1, 0, 0},
		"query":  {1, 0, 0},
	})
	mustStore(t, g, "memory", nil, "")

	fresh, err := g.Recall(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}

	// Same query 40 days later: the time-decay factor shrinks the score.
	// (The earlier recall reset last access, so staleness counts from then.)
	base := g.now()
	g.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }

	stale, err := g.Recall(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(fresh) != 1 || len(stale) != 1 {
		t.Fatalf("results = %d fresh, %d stale, want 1 each", len(fresh), len(stale))
	}
	if stale[0].Relevance >= fresh[0].Relevance {
		t.Errorf("stale relevance %f not below fresh %f", stale[0].Relevance, fresh[0].Relevance)
	}
}

func TestRecallDeterministicTieBreak(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"twin one": {1, 0, 0},
		"twin two": {1, 0, 0},
		"query":    {1, 0, 0},
	})
	a := mustStore(t, g, "twin one", nil, "")
	b := mustStore(t, g, "twin two", nil, "")

	results, err := g.Recall(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	// Identical score and importance: lexicographically smaller id wins.
	wantFirst := a
	if b < a {
		wantFirst = b
	}
	if results[0].Node.ID != wantFirst {
		t.Errorf("first result = %s, want %s", results[0].Node.ID, wantFirst)
	}
}

func TestRecallDefaultLimit(t *testing.T) {
	vectors := map[string][]float64{"query": {1, 0, 0}}
	g, emb := testGraph(t, vectors)
	for i := 0; i < 15; i++ {
		content := string(rune('a'+i)) + " memory"
		emb.vectors[content] = []float64{1, 0, 0}
		mustStore(t, g, content, nil, "")
	}

	results, err := g.Recall(context.Background(), "query", 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != defaultRecallLimit {
		t.Errorf("results = %d, want default limit %d", len(results), defaultRecallLimit)
	}
}

func TestRecallEmbeddingFailureAtomic(t *testing.T) {
	g, emb := testGraph(t, map[string][]float64{
		"memory": {1, 0, 0},
	})
	id := mustStore(t, g, "memory", nil, "")

	emb.err = errors.New("provider down")
	_, err := g.Recall(context.Background(), "query", 5)
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want *EmbeddingError", err)
	}

	n, _ := g.Get(id)
	if n.AccessCount != 0 {
		t.Error("failed recall reinforced a node")
	}
}

func TestRecallContextAndPath(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"hub":       {1, 0, 0},
		"spoke one": sim09,
		"spoke two": sim097,
		"query":     {1, 0, 0},
	})
	hub := mustStore(t, g, "hub", nil, "")
	mustStore(t, g, "spoke one", nil, "")
	s2 := mustStore(t, g, "spoke two", nil, "")

	// Focus is the last stored node (spoke two). The top hit's association
	// path runs from there.
	results, err := g.Recall(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Node.ID != hub {
		t.Fatalf("top result = %s, want hub %s", r.Node.ID, hub)
	}
	if len(r.Context) == 0 || len(r.Context) > contextNeighbors {
		t.Errorf("context size = %d, want 1..%d", len(r.Context), contextNeighbors)
	}
	// Context ranked by edge strength: spoke two (0.97) before spoke one (0.9).
	if r.Context[0].Node.ID != s2 {
		t.Errorf("strongest neighbor = %s, want %s", r.Context[0].Node.ID, s2)
	}
	if len(r.AssociationPath) == 0 {
		t.Error("expected an association path from the previous focus")
	} else {
		if r.AssociationPath[0] != s2 {
			t.Errorf("path starts at %s, want previous focus %s", r.AssociationPath[0], s2)
		}
		if r.AssociationPath[len(r.AssociationPath)-1] != hub {
			t.Errorf("path ends at %s, want %s", r.AssociationPath[len(r.AssociationPath)-1], hub)
		}
	}

	// The top hit became the new focus.
	if g.focus != hub {
		t.Errorf("focus = %s, want %s", g.focus, hub)
	}
}

func TestRecallScoreFormula(t *testing.T) {
	g, _ := testGraph(t, map[string][]float64{
		"memory": {1, 0, 0},
		"query":  sim09,
	})
	id := mustStore(t, g, "memory", nil, "")
	imp := g.nodes[id].Importance

	results, err := g.Recall(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	// No elapsed time, so score = similarity * importance.
	want := 0.9 * imp
	if math.Abs(results[0].Relevance-want) > 1e-9 {
		t.Errorf("relevance = %f, want %f", results[0].Relevance, want)
	}
}
