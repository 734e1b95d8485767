package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the eventual-consistency debt and sync outcomes.
type Metrics struct {
	Runs           *prometheus.CounterVec
	RecordsPushed  prometheus.Counter
	PushFailures   prometheus.Counter
	PendingRecords prometheus.Gauge
	Tombstones     prometheus.Gauge
	Duration       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediscan_sync_runs_total",
			Help: "Full reconciliations by outcome.",
		}, []string{"result"}),
		RecordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediscan_sync_records_pushed_total",
			Help: "Scan records confirmed in the remote store.",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediscan_sync_push_failures_total",
			Help: "Per-entity push or delete failures.",
		}),
		PendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediscan_sync_pending_records",
			Help: "Local scan records not yet confirmed remotely.",
		}),
		Tombstones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediscan_sync_pending_deletes",
			Help: "Local deletions not yet applied remotely.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediscan_sync_duration_seconds",
			Help:    "Full reconciliation latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.RecordsPushed, m.PushFailures, m.PendingRecords, m.Tombstones, m.Duration)
	}
	return m
}
