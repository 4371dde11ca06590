package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/metrics"
)

// testServer builds a server over a hash-embedder graph; identical texts
// embed identically, so recall queries can target stored content exactly.
func testServer(t *testing.T) (*Server, *engine.KnowledgeGraph) {
	t.Helper()
	graph := engine.New(engine.NewHashEmbedder(64), engine.DefaultParams())
	s := New(graph, nil, metrics.New("synapse_test_"+t.Name()), "test")
	return s, graph
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func storeMemory(t *testing.T, s *Server, content string) string {
	t.Helper()
	rec := doJSON(t, s, "POST", "/api/memories", map[string]any{
		"content": content,
		"tags":    []string{"test"},
		"source":  "suite",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("store status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &resp)
	if resp.ID == "" {
		t.Fatal("store returned empty id")
	}
	return resp.ID
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, "GET", "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
}

func TestStoreAndGetMemory(t *testing.T) {
	s, _ := testServer(t)
	id := storeMemory(t, s, "the sky is blue")

	rec := doJSON(t, s, "GET", "/api/memories/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var node engine.MemoryNode
	decodeBody(t, rec, &node)
	if node.Content != "the sky is blue" {
		t.Errorf("content = %q", node.Content)
	}
	if len(node.Tags) != 1 || node.Tags[0] != "test" {
		t.Errorf("tags = %v, want [test]", node.Tags)
	}
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, "POST", "/api/memories", map[string]any{"content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStoreRejectsInvalidJSON(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest("POST", "/api/memories", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetMissingMemory(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, "GET", "/api/memories/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteMemory(t *testing.T) {
	s, _ := testServer(t)
	id := storeMemory(t, s, "to be deleted")

	rec := doJSON(t, s, "DELETE", "/api/memories/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, s, "DELETE", "/api/memories/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestRecallEndpoint(t *testing.T) {
	s, _ := testServer(t)
	id := storeMemory(t, s, "kubernetes upgrade notes")
	storeMemory(t, s, "sourdough starter schedule")

	rec := doJSON(t, s, "GET", "/api/recall?q=kubernetes+upgrade+notes&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recall status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []engine.RecallResult `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) == 0 {
		t.Fatal("expected at least one result")
	}
	if resp.Results[0].Node.ID != id {
		t.Errorf("top result = %s, want %s", resp.Results[0].Node.ID, id)
	}
	if resp.Results[0].Node.AccessCount != 1 {
		t.Errorf("access count = %d, want 1 after recall", resp.Results[0].Node.AccessCount)
	}
}

func TestRecallRequiresQuery(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, "GET", "/api/recall", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRelateAndAssociations(t *testing.T) {
	s, _ := testServer(t)
	a := storeMemory(t, s, "first topic")
	b := storeMemory(t, s, "second topic")

	rec := doJSON(t, s, "POST", "/api/relations", map[string]any{
		"from": a, "to": b, "type": "causal", "strength": 0.8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("relate status = %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate pair conflicts.
	rec = doJSON(t, s, "POST", "/api/relations", map[string]any{
		"from": a, "to": b, "type": "causal", "strength": 0.5,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate relate status = %d, want 409", rec.Code)
	}

	// Unknown endpoint is a 404.
	rec = doJSON(t, s, "POST", "/api/relations", map[string]any{
		"from": a, "to": "ghost", "type": "causal", "strength": 0.5,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing endpoint status = %d, want 404", rec.Code)
	}

	// Unknown type is a 400.
	rec = doJSON(t, s, "POST", "/api/relations", map[string]any{
		"from": a, "to": b, "type": "friendship", "strength": 0.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, "GET", fmt.Sprintf("/api/memories/%s/associations?depth=2", a), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("associations status = %d", rec.Code)
	}
	var assocResp struct {
		Associations []engine.Association `json:"associations"`
	}
	decodeBody(t, rec, &assocResp)
	if len(assocResp.Associations) != 1 || assocResp.Associations[0].Node.ID != b {
		t.Errorf("associations = %+v, want just %s", assocResp.Associations, b)
	}
}

func TestAssociationsUnknownIDIsEmpty(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, "GET", "/api/memories/no-such-id/associations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty list", rec.Code)
	}
	var resp struct {
		Associations []engine.Association `json:"associations"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Associations) != 0 {
		t.Errorf("associations = %d, want 0", len(resp.Associations))
	}
}

func TestPathEndpoint(t *testing.T) {
	s, _ := testServer(t)
	a := storeMemory(t, s, "start here")
	b := storeMemory(t, s, "end there")

	doJSON(t, s, "POST", "/api/relations", map[string]any{
		"from": a, "to": b, "type": "temporal", "strength": 0.7,
	})

	// Focus is b (last stored); path to a crosses the temporal edge.
	rec := doJSON(t, s, "GET", "/api/path?target="+a, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("path status = %d", rec.Code)
	}
	var resp struct {
		Path []string `json:"path"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Path) != 2 || resp.Path[0] != b || resp.Path[1] != a {
		t.Errorf("path = %v, want [%s %s]", resp.Path, b, a)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	s, _ := testServer(t)
	storeMemory(t, s, "alpha")
	storeMemory(t, s, "beta")

	rec := doJSON(t, s, "GET", "/api/graph/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	var resp engine.GraphSummary
	decodeBody(t, rec, &resp)
	if resp.NodeCount != 2 {
		t.Errorf("node count = %d, want 2", resp.NodeCount)
	}
}

func TestSnapshotRoundTripOverHTTP(t *testing.T) {
	s, _ := testServer(t)
	id := storeMemory(t, s, "survives the round trip")

	rec := doJSON(t, s, "GET", "/api/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	exported := rec.Body.Bytes()

	// Import into a second, empty server.
	s2, graph2 := testServer(t)
	req := httptest.NewRequest("PUT", "/api/snapshot", bytes.NewReader(exported))
	rec2 := httptest.NewRecorder()
	s2.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec2.Code, rec2.Body.String())
	}

	node, ok := graph2.Get(id)
	if !ok {
		t.Fatal("imported node missing")
	}
	if node.Content != "survives the round trip" {
		t.Errorf("content = %q", node.Content)
	}
}

func TestSnapshotImportRejectsGarbage(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest("PUT", "/api/snapshot", bytes.NewBufferString(`{"version":1,"nodes":[{"id":""}]}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConsolidateEndpoint(t *testing.T) {
	s, _ := testServer(t)
	storeMemory(t, s, "one memory")
	storeMemory(t, s, "another memory")

	rec := doJSON(t, s, "POST", "/api/consolidate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consolidate status = %d", rec.Code)
	}
	var resp engine.ConsolidationResult
	decodeBody(t, rec, &resp)
	if resp.Clusters == 0 {
		t.Errorf("clusters = %d, want at least 1", resp.Clusters)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
