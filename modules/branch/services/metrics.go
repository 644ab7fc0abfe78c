package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branch",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Total number of imported sheet rows broken down by entity kind and outcome.",
	}, []string{"kind", "outcome"})

	importRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branch",
		Subsystem: "import",
		Name:      "runs_total",
		Help:      "Total number of import runs broken down by result.",
	}, []string{"result"})

	importDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "branch",
		Subsystem: "import",
		Name:      "duration_seconds",
		Help:      "Wall time of import runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	persistenceConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branch",
		Subsystem: "import",
		Name:      "persistence_conflicts_total",
		Help:      "Total number of row writes rejected by the database, by SQLSTATE.",
	}, []string{"sqlstate"})

	dedupMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branch",
		Subsystem: "dedup",
		Name:      "merged_total",
		Help:      "Total number of duplicate rows merged into a survivor, by target.",
	}, []string{"target"})

	recomputeRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "branch",
		Subsystem: "aggregates",
		Name:      "recompute_total",
		Help:      "Total number of aggregate recomputations.",
	})
)

func recordRow(kind, outcome string) {
	if outcome == "" {
		outcome = "replaced"
	}
	importRows.WithLabelValues(kind, outcome).Inc()
}

func recordRun(result string, started time.Time) {
	importRuns.WithLabelValues(result).Inc()
	importDuration.Observe(time.Since(started).Seconds())
}

func recordPersistenceConflict(code string) {
	if code == "" {
		code = "unknown"
	}
	persistenceConflicts.WithLabelValues(code).Inc()
}

func recordDedupMerged(target string, n int) {
	dedupMerged.WithLabelValues(target).Add(float64(n))
}

func recordRecompute() {
	recomputeRuns.Inc()
}
