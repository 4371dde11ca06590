package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the prometheus instruments for the memory engine.
// All record methods are nil-safe, so instrumented code runs unchanged
// when metrics are disabled.
type Collector struct {
	registry *prometheus.Registry

	nodesStored      prometheus.Counter
	nodesDeleted     prometheus.Counter
	nodesMerged      prometheus.Counter
	relationsCreated prometheus.Counter
	relationsPruned  prometheus.Counter
	recalls          prometheus.Counter
	consolidations   prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter

	graphNodes     prometheus.Gauge
	graphRelations prometheus.Gauge

	consolidationSeconds prometheus.Histogram
}

// New creates a Collector with its own registry under the given namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		nodesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_stored_total",
			Help:      "Total number of memory nodes stored",
		}),
		nodesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Total number of memory nodes deleted",
		}),
		nodesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_merged_total",
			Help:      "Total number of duplicate nodes absorbed during consolidation",
		}),
		relationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_created_total",
			Help:      "Total number of relations created",
		}),
		relationsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_pruned_total",
			Help:      "Total number of relations pruned during consolidation",
		}),
		recalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalls_total",
			Help:      "Total number of recall queries served",
		}),
		consolidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidations_total",
			Help:      "Total number of consolidation passes run",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Current number of live memory nodes",
		}),
		graphRelations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_relations",
			Help:      "Current number of live relations",
		}),
		consolidationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation pass duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		c.nodesStored,
		c.nodesDeleted,
		c.nodesMerged,
		c.relationsCreated,
		c.relationsPruned,
		c.recalls,
		c.consolidations,
		c.cacheHits,
		c.cacheMisses,
		c.graphNodes,
		c.graphRelations,
		c.consolidationSeconds,
	)

	return c
}

// Handler returns an http.Handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) NodeStored() {
	if c == nil {
		return
	}
	c.nodesStored.Inc()
}

func (c *Collector) NodesDeleted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.nodesDeleted.Add(float64(n))
}

func (c *Collector) NodesMerged(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.nodesMerged.Add(float64(n))
}

func (c *Collector) RelationsCreated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.relationsCreated.Add(float64(n))
}

func (c *Collector) RelationsPruned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.relationsPruned.Add(float64(n))
}

func (c *Collector) Recall() {
	if c == nil {
		return
	}
	c.recalls.Inc()
}

func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// Consolidation records one completed consolidation pass.
func (c *Collector) Consolidation(d time.Duration) {
	if c == nil {
		return
	}
	c.consolidations.Inc()
	c.consolidationSeconds.Observe(d.Seconds())
}

// SetGraphSize updates the live node/relation gauges.
func (c *Collector) SetGraphSize(nodes, relations int) {
	if c == nil {
		return
	}
	c.graphNodes.Set(float64(nodes))
	c.graphRelations.Set(float64(relations))
}
