// Package metrics exposes Prometheus instrumentation for searches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "searchd"

// Metrics holds the search and indexer collectors.
type Metrics struct {
	SearchesTotal      *prometheus.CounterVec
	SearchDuration     prometheus.Histogram
	ReleasesReturned   prometheus.Counter
	IndexerRequests    *prometheus.CounterVec
	IndexerDuration    *prometheus.HistogramVec
	IndexersSkipped    *prometheus.CounterVec
	DefinitionsLoaded  prometheus.Gauge
	DefinitionsUpdated prometheus.Counter
}

// New creates and registers every collector on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "requests_total",
				Help:      "Aggregated searches by outcome",
			},
			[]string{"outcome"},
		),
		SearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Wall time of aggregated searches",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		ReleasesReturned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "releases_returned_total",
				Help:      "Releases returned after dedup and filtering",
			},
		),
		IndexerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "searches_total",
				Help:      "Per-indexer search outcomes by error kind",
			},
			[]string{"indexer", "status", "kind"},
		),
		IndexerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "search_duration_seconds",
				Help:      "Time spent querying one indexer",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"indexer"},
		),
		IndexersSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "skipped_total",
				Help:      "Indexers skipped before dispatch",
			},
			[]string{"indexer", "reason"},
		),
		DefinitionsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "definitions",
				Name:      "loaded",
				Help:      "Definitions present in the cache",
			},
		),
		DefinitionsUpdated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "definitions",
				Name:      "updates_total",
				Help:      "Successful remote catalog updates",
			},
		),
	}
}

// ObserveSearch records one finished aggregated search.
func (m *Metrics) ObserveSearch(outcome string, elapsed time.Duration, releases int) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(elapsed.Seconds())
	m.ReleasesReturned.Add(float64(releases))
}

// ObserveIndexer records the outcome of one indexer within a search.
func (m *Metrics) ObserveIndexer(indexer, status, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IndexerRequests.WithLabelValues(indexer, status, kind).Inc()
	m.IndexerDuration.WithLabelValues(indexer).Observe(elapsed.Seconds())
}

// Skipped records an indexer left out of a search.
func (m *Metrics) Skipped(indexer, reason string) {
	if m == nil {
		return
	}
	m.IndexersSkipped.WithLabelValues(indexer, reason).Inc()
}

// SetDefinitions records the number of cached definitions.
func (m *Metrics) SetDefinitions(count int) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(float64(count))
}

// DefinitionsRefreshed counts a catalog refresh.
func (m *Metrics) DefinitionsRefreshed() {
	if m == nil {
		return
	}
	m.DefinitionsUpdated.Inc()
}
