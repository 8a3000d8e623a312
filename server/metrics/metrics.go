package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are recorded while a command runs and, when --metrics_textfile is
// set, written once on exit in the Prometheus text format (suitable for the
// node_exporter textfile collector).

const (
	// Label constants.

	/// Database label as shown in progress bars: `db0`, `db1`, ...
	DatabaseLabel = "db"

	/// Per-key migration outcome: `applied`, `skipped_missing`,
	/// `skipped_existing`, or `failed`.
	MigrationOutcomeLabel = "outcome"

	/// Consistency check result: `in_sync`, `out_of_sync`, or `missing_keyspace`.
	SyncStatusLabel = "sync_status"
)

const (
	rmuNamespace = "rmu"
)

var (
	/// ## Migration

	MigrationKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: rmuNamespace,
		Subsystem: "migration",
		Name:      "keys",
		Help:      "Number of keys handled by the migration engine, by outcome.",
	}, []string{
		DatabaseLabel,
		MigrationOutcomeLabel,
	})

	MigrationBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: rmuNamespace,
		Subsystem: "migration",
		Name:      "batches",
		Help:      "Number of SCAN batches copied from source to destination.",
	}, []string{
		DatabaseLabel,
	})

	MigrationDurationUsec = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: rmuNamespace,
		Subsystem: "migration",
		Name:      "duration_usec",
		Buckets:   prometheus.ExponentialBuckets(1000, 10, 8),
		Help:      "Time taken to migrate one database, in **microseconds**.",
	}, []string{
		DatabaseLabel,
	})

	/// ## Consistency check

	ConsistencyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: rmuNamespace,
		Subsystem: "consistency",
		Name:      "checks",
		Help:      "Number of consistency checks, by result.",
	}, []string{
		DatabaseLabel,
		SyncStatusLabel,
	})

	/// ## Memory report

	ReportKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: rmuNamespace,
		Subsystem: "report",
		Name:      "keys",
		Help:      "Number of keys inspected by the memory report.",
	}, []string{
		DatabaseLabel,
	})

	ReportBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: rmuNamespace,
		Subsystem: "report",
		Name:      "memory_bytes",
		Help:      "Sum of MEMORY USAGE over the keys inspected by the memory report.",
	}, []string{
		DatabaseLabel,
	})
)

// WriteTextfile writes every registered metric to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
