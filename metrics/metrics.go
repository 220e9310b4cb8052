// Package metrics exposes cache behaviour as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spawncache"

// Result labels for the requests counter.
const (
	ResultL1Hit  = "l1_hit"
	ResultL2Hit  = "l2_hit"
	ResultMiss   = "miss"
	ResultError  = "factory_error"
	ResultBypass = "bypass"
)

// Degraded-stage labels.
const (
	StageEmbed     = "embed"
	StagePanic     = "panic"
	StageL2Search  = "l2_search"
	StageL2Store   = "l2_store"
	StageL2Update  = "l2_update"
	StageDimension = "dimension"
)

// Collector holds every cache metric. A nil *Collector is valid and records
// nothing.
type Collector struct {
	requests        *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	factoryDuration prometheus.Histogram
	similarity      prometheus.Histogram
	degraded        *prometheus.CounterVec
	coalesced       prometheus.Counter
	l1Entries       prometheus.Gauge
	sweepDeleted    prometheus.Counter
	invalidated     prometheus.Counter
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Resolve calls by outcome.",
		}, []string{"result"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolve latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"result"}),
		factoryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "factory_duration_seconds",
			Help:      "Latency of factory calls on cache misses.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hit_similarity",
			Help:      "Cosine similarity of accepted hits.",
			Buckets:   []float64{0.85, 0.88, 0.9, 0.92, 0.94, 0.96, 0.98, 0.99, 1},
		}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Recovered failures by stage.",
		}, []string{"stage"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_total",
			Help:      "Resolve calls that shared another caller's factory call.",
		}),
		l1Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "l1_entries",
			Help:      "Records currently held in L1.",
		}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Expired L2 records removed by the sweeper.",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_total",
			Help:      "Records removed by explicit invalidation.",
		}),
	}
	reg.MustRegister(
		c.requests, c.resolveDuration, c.factoryDuration, c.similarity,
		c.degraded, c.coalesced, c.l1Entries, c.sweepDeleted, c.invalidated,
	)
	return c
}

// ObserveResolve records one finished resolve call.
func (c *Collector) ObserveResolve(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(result).Inc()
	c.resolveDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveFactory records one factory call.
func (c *Collector) ObserveFactory(d time.Duration) {
	if c == nil {
		return
	}
	c.factoryDuration.Observe(d.Seconds())
}

// ObserveSimilarity records the score of an accepted hit.
func (c *Collector) ObserveSimilarity(score float64) {
	if c == nil {
		return
	}
	c.similarity.Observe(score)
}

// Degraded counts a recovered failure in stage.
func (c *Collector) Degraded(stage string) {
	if c == nil {
		return
	}
	c.degraded.WithLabelValues(stage).Inc()
}

// Coalesced counts a waiter that reused another caller's result.
func (c *Collector) Coalesced() {
	if c == nil {
		return
	}
	c.coalesced.Inc()
}

// SetL1Entries reports L1 occupancy.
func (c *Collector) SetL1Entries(n int) {
	if c == nil {
		return
	}
	c.l1Entries.Set(float64(n))
}

// SweepDeleted adds n swept records.
func (c *Collector) SweepDeleted(n int64) {
	if c == nil {
		return
	}
	c.sweepDeleted.Add(float64(n))
}

// Invalidated adds n invalidated records.
func (c *Collector) Invalidated(n int) {
	if c == nil {
		return
	}
	c.invalidated.Add(float64(n))
}

// Handler returns an http.Handler that serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
