package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/metrics"
)

// Server is the synapse HTTP API server.
type Server struct {
	graph     *engine.KnowledgeGraph
	log       *zap.Logger
	collector *metrics.Collector
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a Server around the given graph. Logger and collector may be nil.
func New(graph *engine.KnowledgeGraph, log *zap.Logger, collector *metrics.Collector, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		graph:     graph,
		log:       log,
		collector: collector,
		version:   version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleStoreMemory)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Delete("/memories/{id}", s.handleDeleteMemory)
		r.Get("/memories/{id}/associations", s.handleAssociations)

		r.Post("/relations", s.handleRelate)
		r.Get("/recall", s.handleRecall)
		r.Get("/path", s.handlePath)
		r.Get("/graph/summary", s.handleSummary)

		r.Get("/snapshot", s.handleSnapshotExport)
		r.Put("/snapshot", s.handleSnapshotImport)
		r.Post("/consolidate", s.handleConsolidate)
	})

	r.Method("GET", "/metrics", s.collector.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"nodes":   s.graph.NodeCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
