package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// RelationType classifies an edge in the knowledge graph.
type RelationType string

const (
	RelationSemantic     RelationType = "semantic"
	RelationTemporal     RelationType = "temporal"
	RelationCausal       RelationType = "causal"
	RelationHierarchical RelationType = "hierarchical"
	RelationAssociative  RelationType = "associative"
)

// Valid reports whether t is a member of the closed relation-type set.
func (t RelationType) Valid() bool {
	switch t {
	case RelationSemantic, RelationTemporal, RelationCausal, RelationHierarchical, RelationAssociative:
		return true
	}
	return false
}

// MemoryNode is a single stored memory. Embedding dimension is fixed for the
// lifetime of the graph; importance stays within [floor, 1].
type MemoryNode struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Embedding      []float64 `json:"embedding"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Tags           []string  `json:"tags,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// clone returns a deep copy safe to hand outside the lock.
func (n *MemoryNode) clone() MemoryNode {
	c := *n
	c.Embedding = append([]float64(nil), n.Embedding...)
	c.Tags = append([]string(nil), n.Tags...)
	return c
}

// MemoryRelation is a directed, typed, weighted edge between two nodes.
type MemoryRelation struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Type      RelationType `json:"type"`
	Strength  float64      `json:"strength"`
	CreatedAt time.Time    `json:"created_at"`
}

var (
	ErrEmptyContent      = errors.New("empty content")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNodeNotFound      = errors.New("node not found")
	ErrDuplicateRelation = errors.New("relation already exists")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
)

// EmbeddingError wraps an embedding provider failure. Store and Recall abort
// with it before touching the graph, so no partial mutation ever persists.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed during %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// maxContentChars caps stored content size. Oversized content is truncated at
// a word boundary rather than rejected.
const maxContentChars = 40000

// truncateClean truncates a string to maxLen, cutting at the last word
// boundary to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	truncated := s[:maxLen]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}

// normalizeTags lowercases, trims, deduplicates, and sorts a tag list.
// Returns nil for an empty result so tag-free nodes stay compact.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// unionTags merges two normalized tag lists, preserving set semantics.
func unionTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	return normalizeTags(append(append([]string(nil), a...), b...))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
