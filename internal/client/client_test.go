package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("SYNAPSE_URL", srv.URL)
	return New()
}

func TestGetReturnsBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/graph/summary" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"node_count":3}`))
	})

	data, err := c.Get("/api/graph/summary")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"node_count":3}` {
		t.Errorf("body = %s", data)
	}
}

func TestErrorStatusReturnsBodyAndError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"memory not found"}`, http.StatusNotFound)
	})

	data, err := c.Get("/api/memories/ghost")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if len(data) == 0 {
		t.Error("error body should still be returned")
	}
}

func TestPutSetsJSONContentType(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"status":"imported"}`))
	})

	if _, err := c.Put("/api/snapshot", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestHealthy(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	if !c.Healthy() {
		t.Error("Healthy = false against a live server")
	}

	down := &Client{http: c.http, serverURL: "http://127.0.0.1:1"}
	if down.Healthy() {
		t.Error("Healthy = true against a dead address")
	}
}
