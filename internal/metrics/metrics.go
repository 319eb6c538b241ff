package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_admission_decisions_total",
		Help: "Admission decisions by route and outcome.",
	}, []string{"route", "outcome"})
	LimiterKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_limiter_tracked_keys",
		Help: "Client keys tracked by the in-memory limiter.",
	})
	EventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_received_total",
		Help: "Raw events accepted into a batch after the batch cap.",
	})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_dropped_total",
		Help: "Events dropped during sanitization.",
	}, []string{"reason"})
	EventsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_persisted_total",
		Help: "Events written to the datastore.",
	})
	EventsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_failed_total",
		Help: "Events the datastore failed to write.",
	})
	SourceAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_source_attempts_total",
		Help: "Aggregation source attempts by source and outcome.",
	}, []string{"source", "outcome"})
	SourceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_source_duration_seconds",
		Help:    "Aggregation source latency.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"source"})
	QueryResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_query_results_total",
		Help: "Resolved metric queries by metric and answering source.",
	}, []string{"metric", "source"})
	CacheHit = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_cache_hit_total",
		Help: "Cache hits.",
	}, []string{"kind"})
	CacheMiss = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_cache_miss_total",
		Help: "Cache misses.",
	}, []string{"kind"})
	MaintenanceRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_maintenance_runs_total",
		Help: "Maintenance job runs by job and outcome.",
	}, []string{"job", "outcome"})
)

func init() {
	prometheus.MustRegister(
		AdmissionDecisions, LimiterKeys,
		EventsReceived, EventsDropped, EventsPersisted, EventsFailed,
		SourceAttempts, SourceDuration, QueryResults,
		CacheHit, CacheMiss, MaintenanceRuns,
	)
}

var handler = promhttp.Handler()

func Handler(w http.ResponseWriter, r *http.Request) {
	handler.ServeHTTP(w, r)
}
