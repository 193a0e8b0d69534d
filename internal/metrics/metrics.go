// Package metrics exposes Prometheus instrumentation for the persistence
// layer, the glucose sources and the sync coordinator.
//
// Every method is safe to call on a nil *Collector, so components built
// without metrics need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric of the process.
type Collector struct {
	cacheLookups       *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	txTotal            *prometheus.CounterVec
	txDuration         prometheus.Histogram
	opDuration         *prometheus.HistogramVec
	healthIssues       *prometheus.GaugeVec
	sourceFetches      *prometheus.CounterVec
	qualityEvents      *prometheus.CounterVec
	syncRecords        *prometheus.CounterVec
	syncRetries        prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_cache_lookups_total",
			Help: "Cache lookups by cache and result (hit|miss).",
		}, []string{"cache", "result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_cache_evictions_total",
			Help: "Entries evicted because a cache reached capacity.",
		}, []string{"cache"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_cache_invalidations_total",
			Help: "Entries dropped after writes.",
		}, []string{"cache"}),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_transactions_total",
			Help: "Finished transactions by outcome (committed|rolled_back).",
		}, []string{"outcome"}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "balli_transaction_duration_seconds",
			Help:    "Wall time of write transactions including the wait for the write lock.",
			Buckets: prometheus.DefBuckets,
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "balli_store_operation_duration_seconds",
			Help:    "Latency of store operations by kind (save|fetch) and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		healthIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "balli_health_issues",
			Help: "Issues found by the last health check, by kind.",
		}, []string{"kind"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_source_fetches_total",
			Help: "Glucose source fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		qualityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_data_quality_events_total",
			Help: "Readings rejected before merge, by reason.",
		}, []string{"reason"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balli_sync_records_total",
			Help: "Records moved by the sync coordinator by category and direction.",
		}, []string{"category", "direction"}),
		syncRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balli_sync_retries_total",
			Help: "Retried sync calls.",
		}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.cacheEvictions,
		c.cacheInvalidations,
		c.txTotal,
		c.txDuration,
		c.opDuration,
		c.healthIssues,
		c.sourceFetches,
		c.qualityEvents,
		c.syncRecords,
		c.syncRetries,
	)

	return c
}

func (c *Collector) CacheLookup(cache string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (c *Collector) CacheEviction(cache string) {
	if c == nil {
		return
	}
	c.cacheEvictions.WithLabelValues(cache).Inc()
}

func (c *Collector) CacheInvalidation(cache string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.cacheInvalidations.WithLabelValues(cache).Add(float64(n))
}

// TxFinished records a transaction outcome and its duration.
func (c *Collector) TxFinished(committed bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	c.txTotal.WithLabelValues(outcome).Inc()
	c.txDuration.Observe(d.Seconds())
}

func (c *Collector) OperationObserved(kind string, d time.Duration, ok bool) {
	if c == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	c.opDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// HealthIssues replaces the per-kind issue gauges with counts.
func (c *Collector) HealthIssues(counts map[string]int) {
	if c == nil {
		return
	}
	c.healthIssues.Reset()
	for kind, n := range counts {
		c.healthIssues.WithLabelValues(kind).Set(float64(n))
	}
}

func (c *Collector) SourceFetch(source, outcome string) {
	if c == nil {
		return
	}
	c.sourceFetches.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) QualityEvent(reason string) {
	if c == nil {
		return
	}
	c.qualityEvents.WithLabelValues(reason).Inc()
}

func (c *Collector) SyncRecords(category, direction string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.syncRecords.WithLabelValues(category, direction).Add(float64(n))
}

func (c *Collector) SyncRetry() {
	if c == nil {
		return
	}
	c.syncRetries.Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
