// Package telemetry is the daemon's self-observability layer
// (SPEC_FULL.md §4.10): ambient Prometheus/OpenTelemetry instrumentation of
// the daemon's own behavior. It never carries the structured-log/metric
// payload data the daemon collects on behalf of its clients.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all internal Prometheus metrics for bort's self-monitoring.
type Metrics struct {
	EventsIngested    prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	DumpsAttempted    prometheus.Counter
	DumpsAccepted     prometheus.Counter
	DumpsRejected     prometheus.Counter
	DumpDuration      prometheus.Histogram
	ReportFinishes    prometheus.Counter
	StorageFreeBytes  prometheus.Gauge
	ActiveConnections prometheus.Gauge
	DBLatency         prometheus.Histogram

	// Atomic counters for the JSON health endpoint (avoids scraping
	// Prometheus for a simple liveness dashboard).
	totalIngested  atomic.Int64
	activeConns    atomic.Int64
	dbLatencyP99Ms atomic.Int64
}

// New creates and registers bort's internal metrics.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bort_events_ingested_total",
			Help: "Total number of events accepted into the event log.",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bort_events_dropped_total",
			Help: "Total number of events dropped, by reason.",
		}, []string{"reason"}),
		DumpsAttempted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bort_dumps_attempted_total",
			Help: "Total number of dump passes attempted.",
		}),
		DumpsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bort_dumps_accepted_total",
			Help: "Total number of dumps accepted by the drop sink.",
		}),
		DumpsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bort_dumps_rejected_total",
			Help: "Total number of dumps rejected by the drop sink.",
		}),
		DumpDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bort_dump_duration_seconds",
			Help:    "Duration of a single dump pass.",
			Buckets: prometheus.DefBuckets,
		}),
		ReportFinishes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bort_report_finishes_total",
			Help: "Total number of finish_report calls that produced a report.",
		}),
		StorageFreeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bort_storage_free_bytes",
			Help: "Free space on the backing store's mount, as last observed.",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bort_active_connections",
			Help: "Number of active debug-event-hub WebSocket connections.",
		}),
		DBLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bort_db_latency_seconds",
			Help:    "Storage operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordIngestion increments the ingested-events counter.
func (m *Metrics) RecordIngestion() {
	m.EventsIngested.Inc()
	m.totalIngested.Add(1)
}

// RecordDrop increments the dropped-events counter for the given reason
// ("rate_limited", "oversize", "low_space").
func (m *Metrics) RecordDrop(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordDump records the outcome of one dump pass.
func (m *Metrics) RecordDump(accepted bool, duration float64) {
	m.DumpsAttempted.Inc()
	m.DumpDuration.Observe(duration)
	if accepted {
		m.DumpsAccepted.Inc()
	} else {
		m.DumpsRejected.Inc()
	}
}

// RecordReportFinish increments the report-finish counter.
func (m *Metrics) RecordReportFinish() {
	m.ReportFinishes.Inc()
}

// SetStorageFree updates the free-space gauge.
func (m *Metrics) SetStorageFree(bytes int64) {
	m.StorageFreeBytes.Set(float64(bytes))
}

// SetActiveConnections updates the active WebSocket connection gauge.
func (m *Metrics) SetActiveConnections(n int) {
	m.ActiveConnections.Set(float64(n))
	m.activeConns.Store(int64(n))
}

// ObserveDBLatency records a storage operation latency in seconds.
func (m *Metrics) ObserveDBLatency(seconds float64) {
	m.DBLatency.Observe(seconds)
	m.dbLatencyP99Ms.Store(int64(seconds * 1000))
}

// HealthStats is the JSON response for GET /healthz.
type HealthStats struct {
	EventsIngested int64   `json:"events_ingested"`
	ActiveConns    int64   `json:"active_connections"`
	// DBLatencyP99Ms is the most recently observed storage query latency,
	// truncated to whole milliseconds; no percentile is computed.
	DBLatencyP99Ms float64 `json:"db_latency_p99_ms"`
}

// GetHealthStats returns a snapshot of current telemetry values.
func (m *Metrics) GetHealthStats() HealthStats {
	return HealthStats{
		EventsIngested: m.totalIngested.Load(),
		ActiveConns:    m.activeConns.Load(),
		DBLatencyP99Ms: float64(m.dbLatencyP99Ms.Load()),
	}
}

// HealthHandler returns an http.HandlerFunc for GET /healthz.
func (m *Metrics) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.GetHealthStats())
	}
}

// PrometheusHandler returns the standard Prometheus metrics handler for
// GET /metrics.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
