// Package metrics exposes Prometheus collectors for ingestion cycles and threshold queries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle results
const (
	CycleOK               = "ok"
	CyclePartial          = "partial"
	CycleFailed           = "failed"
	CycleGenerationFailed = "generation_failed"
)

// Query results
const (
	QueryOK    = "ok"
	QueryError = "error"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	entries       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
	queries       *prometheus.CounterVec
	queryLatency  prometheus.Histogram
	matched       prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turbine_ingest_cycles_total",
			Help: "Ingestion cycles by result.",
		}, []string{"result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turbine_ingest_entries_total",
			Help: "Batch entries written to the latest-value store by status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turbine_ingest_cycle_duration_seconds",
			Help:    "Duration of one generate-then-write cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turbine_ingest_last_cycle_timestamp_seconds",
			Help: "Timestamp of the last cycle that wrote at least one entry.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turbine_query_total",
			Help: "Threshold queries by result.",
		}, []string{"result"}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turbine_query_latency_seconds",
			Help:    "Latency of threshold query evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		matched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turbine_query_matched_assets",
			Help: "Number of assets matched by the last successful query.",
		}),
	}

	reg.MustRegister(m.cycles, m.entries, m.cycleDuration, m.lastCycle, m.queries, m.queryLatency, m.matched)
	return m
}

// ObserveCycle records the outcome of one ingestion cycle
func (m *Metrics) ObserveCycle(result string, duration time.Duration, succeeded, failed int, timestamp int64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if succeeded > 0 {
		m.entries.WithLabelValues("ok").Add(float64(succeeded))
		m.lastCycle.Set(float64(timestamp))
	}
	if failed > 0 {
		m.entries.WithLabelValues("error").Add(float64(failed))
	}
}

// ObserveQuery records the outcome of one threshold query
func (m *Metrics) ObserveQuery(result string, duration time.Duration, matched int) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
	m.queryLatency.Observe(duration.Seconds())
	if result == QueryOK {
		m.matched.Set(float64(matched))
	}
}
