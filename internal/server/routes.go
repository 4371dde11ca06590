package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lazypower/synapse/internal/engine"
)

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
		Source  string   `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := s.graph.Store(r.Context(), req.Content, req.Tags, req.Source)
	if err != nil {
		var embErr *engine.EmbeddingError
		switch {
		case errors.Is(err, engine.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "content required")
		case errors.As(err, &embErr):
			s.log.Warn("embedding provider failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, ok := s.graph.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.graph.Delete(id) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAssociations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := 1
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = d
	}

	assocs := s.graph.AssociativeRecall(id, depth)
	if assocs == nil {
		assocs = []engine.Association{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"associations": assocs})
}

func (s *Server) handleRelate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From     string  `json:"from"`
		To       string  `json:"to"`
		Type     string  `json:"type"`
		Strength float64 `json:"strength"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := s.graph.Relate(req.From, req.To, engine.RelationType(req.Type), req.Strength)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "related"})
	case errors.Is(err, engine.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrDuplicateRelation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := s.graph.Recall(r.Context(), query, limit)
	if err != nil {
		var embErr *engine.EmbeddingError
		if errors.As(err, &embErr) {
			s.log.Warn("embedding provider failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []engine.RecallResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target required")
		return
	}

	path := s.graph.FindPath(target)
	if path == nil {
		path = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.Summary())
}

func (s *Server) handleSnapshotExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.Export())
}

func (s *Server) handleSnapshotImport(w http.ResponseWriter, r *http.Request) {
	var snap engine.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := s.graph.Import(snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("snapshot imported over http", zap.Int("nodes", len(snap.Nodes)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.Consolidate())
}
