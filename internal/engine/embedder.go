package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lazypower/synapse/internal/metrics"
)

// Embedder generates vector embeddings for text. The graph never depends on
// how vectors are produced; any provider with stable self-similarity works.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"model": o.model,
		"input": text,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	o.dims = len(result.Embeddings[0])
	return result.Embeddings[0], nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

const defaultHashDims = 256

// HashEmbedder generates deterministic pseudo-random unit vectors from an
// FNV-1a hash of the text. No semantic signal: identical texts map to
// identical vectors (self-similarity exactly 1.0), distinct texts to nearly
// orthogonal ones. The fallback when Ollama is unreachable, and the standard
// provider for tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Model() string   { return "hash" }
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed hashes the text and expands the hash through an LCG into a
// normalized vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	hasher := fnv.New64a()
	hasher.Write([]byte(text))
	seed := hasher.Sum64()

	vec := make([]float64, h.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}
	normalize(vec)
	return vec, nil
}

// CachingEmbedder wraps another embedder with a ristretto cache keyed by
// text. Providers are deterministic per the contract, so cached vectors stay
// valid for the process lifetime. Entries are cost-accounted by vector byte
// size; Embed always returns a defensive copy.
type CachingEmbedder struct {
	inner   Embedder
	cache   *ristretto.Cache
	metrics *metrics.Collector
}

// NewCachingEmbedder wraps inner with an embedding cache. The collector may
// be nil.
func NewCachingEmbedder(inner Embedder, collector *metrics.Collector) (*CachingEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // 64MB of vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embed cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache, metrics: collector}, nil
}

func (c *CachingEmbedder) Model() string   { return c.inner.Model() }
func (c *CachingEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed serves from cache when possible, delegating to the wrapped provider
// on a miss. Provider errors pass through uncached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float64); ok {
			c.metrics.CacheHit()
			return append([]float64(nil), vec...), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.metrics.CacheMiss()
	c.cache.Set(text, append([]float64(nil), vec...), int64(len(vec)*8))
	return vec, nil
}
