package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reflector_build_info",
			Help: "Build information of the reflector service",
		},
		[]string{"version", "commit", "date"},
	)

	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflector_distribution_cycle_total",
			Help: "Total number of distribution cycles by outcome",
		},
		[]string{"outcome"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reflector_distribution_cycle_duration_seconds",
			Help:    "Duration of completed distribution cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
	)

	BatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflector_disbursement_batch_total",
			Help: "Total number of disbursement batches by status",
		},
		[]string{"status"},
	)

	IndexerRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflector_indexer_run_total",
			Help: "Total number of indexer runs by status",
		},
		[]string{"status"},
	)

	IndexerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reflector_indexer_run_duration_seconds",
			Help:    "Duration of indexer runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
	)

	IndexerEventsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reflector_indexer_events_inserted_total",
			Help: "Total number of reward events inserted",
		},
	)

	JackpotDrawTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflector_jackpot_draw_total",
			Help: "Total number of jackpot draws by outcome",
		},
		[]string{"outcome"},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reflector_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)
)
