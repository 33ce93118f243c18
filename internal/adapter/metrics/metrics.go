package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/user/district-metrics/internal/resilience"
)

// SnapshotMetrics holds all Prometheus metrics for the snapshot service.
type SnapshotMetrics struct {
	SnapshotsWritten  *prometheus.CounterVec
	SnapshotsDeleted  prometheus.Counter
	FetchesTotal      *prometheus.CounterVec
	FetchRetriesTotal prometheus.Counter
	BackfillUnits     *prometheus.CounterVec
	BackfillActive    prometheus.Gauge
	FetchersActive    prometheus.Gauge
	BreakerState      *prometheus.GaugeVec
}

// NewSnapshotMetrics initializes and registers the Prometheus metrics.
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		SnapshotsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "district_metrics",
			Subsystem: "storage",
			Name:      "snapshots_written_total",
			Help:      "Total number of snapshots written by status.",
		}, []string{"status"}), // status: success, partial, failed
		SnapshotsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "district_metrics",
			Subsystem: "storage",
			Name:      "snapshots_deleted_total",
			Help:      "Total number of snapshots deleted.",
		}),
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "district_metrics",
			Subsystem: "fetch",
			Name:      "fetches_total",
			Help:      "Total number of district fetches by outcome.",
		}, []string{"outcome"}), // outcome: success, retryable, permanent, not_found
		FetchRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "district_metrics",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of fetch retry attempts.",
		}),
		BackfillUnits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "district_metrics",
			Subsystem: "backfill",
			Name:      "units_total",
			Help:      "Total number of backfill work units by outcome.",
		}, []string{"outcome"}), // outcome: success, failed, cancelled
		BackfillActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "district_metrics",
			Subsystem: "backfill",
			Name:      "jobs_active_gauge",
			Help:      "Number of backfill jobs currently processing.",
		}),
		FetchersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "district_metrics",
			Subsystem: "backfill",
			Name:      "fetchers_active_gauge",
			Help:      "Number of fetch workers currently holding a concurrency slot.",
		}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "district_metrics",
			Subsystem: "resilience",
			Name:      "breaker_state_gauge",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
	}
}

// ObserveBreakerChange records a breaker transition. Wired as the breaker's
// onChange callback.
func (m *SnapshotMetrics) ObserveBreakerChange(name string, _, to resilience.BreakerState) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}
