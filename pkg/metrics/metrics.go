package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors for the engine. 'promauto' registers them on the
// default registry at package load, so embedding applications only need
// to expose promhttp.Handler() to scrape them.

var (
	// 1. Search Duration (Histogram)
	// Approximate searches are expected in the sub-millisecond range, so
	// the buckets start at 10us and top out at 100ms.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "affindb_search_duration_seconds",
			Help:    "Duration of approximate similarity searches in seconds",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	// 2. Searches Total (Counter)
	// Labeled by outcome so error rates are visible next to traffic.
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affindb_searches_total",
			Help: "Total number of similarity searches processed",
		},
		[]string{"status"}, // "ok" | "error"
	)

	// 3. Upserts Total (Counter)
	UpsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affindb_upserts_total",
			Help: "Total number of profile upserts accepted",
		},
	)

	// 4. Profile Count (Gauge)
	Profiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "affindb_profiles",
			Help: "Number of profiles currently indexed",
		},
	)

	// 5. Benchmark Sweeps (Counter)
	// One increment per completed catalog sweep, labeled by outcome.
	BenchmarkSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affindb_benchmark_sweeps_total",
			Help: "Total number of benchmark sweeps run",
		},
		[]string{"status"}, // "ok" | "error"
	)

	// 6. Best Recall (Gauge)
	// Recall@k of the winning configuration from the latest sweep.
	BenchmarkBestRecall = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "affindb_benchmark_best_recall",
			Help: "Recall of the configuration selected by the latest benchmark sweep",
		},
	)

	// 7. Index Rebuilds (Counter)
	IndexRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affindb_index_rebuilds_total",
			Help: "Total number of full index rebuilds",
		},
	)
)
