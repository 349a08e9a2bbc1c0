package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Status endpoint request rate.
	HTTPRequestsTotal *prometheus.CounterVec

	// Status endpoint latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream feed calls by feed (schedule, realtime, weather) and outcome. Watch for: error share per feed.
	FeedCallsTotal *prometheus.CounterVec

	// Upstream feed latency. Watch for: p95 close to the feed timeout.
	FeedDuration *prometheus.HistogramVec

	// Entries returned per successful fetch. Watch for: sudden drops to zero (empty boards vs outages).
	FeedEntries *prometheus.HistogramVec

	// Feed failures by category; fail-open means these never abort a cycle.
	FeedErrorsTotal *prometheus.CounterVec

	// Departure slots without a realtime counterpart.
	AlignmentUnmatchedTotal prometheus.Counter

	// Points written by measurement.
	RecordsWrittenTotal *prometheus.CounterVec

	// Rejected writes by measurement.
	WriteErrorsTotal *prometheus.CounterVec

	// Retention deletes by measurement and outcome.
	PruneDeletesTotal *prometheus.CounterVec

	// Collection cycles by outcome (collected, outside_window, cancelled).
	CyclesTotal *prometheus.CounterVec

	// Wall time per collection cycle.
	CycleDuration prometheus.Histogram

	// Stations with at least one failed operation in a cycle.
	StationFailuresTotal *prometheus.CounterVec

	// Unix time of the last completed cycle.
	LastCycleTimestamp prometheus.Gauge

	// Circuit breaker state per feed: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per feed.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests to the status server",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Status server request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	FeedCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedCallsTotal",
			Help: "Total number of upstream feed calls",
		},
		[]string{"feed", "status"},
	)
	FeedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedDurationSeconds",
			Help:    "Upstream feed latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"feed", "status"},
	)
	FeedEntries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedEntries",
			Help:    "Entries returned per successful feed fetch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"feed"},
	)
	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedErrorsTotal",
			Help: "Failed feed fetches by category",
		},
		[]string{"feed", "category"},
	)
	AlignmentUnmatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alignmentUnmatchedTotal",
			Help: "Departure slots written without a realtime counterpart",
		},
	)
	RecordsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordsWrittenTotal",
			Help: "Points written to the time-series store",
		},
		[]string{"measurement"},
	)
	WriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writeErrorsTotal",
			Help: "Points the time-series store rejected or could not receive",
		},
		[]string{"measurement"},
	)
	PruneDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruneDeletesTotal",
			Help: "Retention delete calls by measurement and outcome",
		},
		[]string{"measurement", "status"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclesTotal",
			Help: "Collection cycles by outcome",
		},
		[]string{"outcome"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cycleDurationSeconds",
			Help:    "Collection cycle wall time in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	StationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationFailuresTotal",
			Help: "Failed station operations by station and operation",
		},
		[]string{"station", "operation"},
	)
	LastCycleTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastCycleTimestampSeconds",
			Help: "Unix time of the last completed collection cycle",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per feed (0 closed, 1 open, 2 half-open)",
		},
		[]string{"feed"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions per feed",
		},
		[]string{"feed", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		FeedCallsTotal, FeedDuration, FeedEntries, FeedErrorsTotal,
		AlignmentUnmatchedTotal,
		RecordsWrittenTotal, WriteErrorsTotal, PruneDeletesTotal,
		CyclesTotal, CycleDuration, StationFailuresTotal, LastCycleTimestamp,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter for a feed.
func RecordCircuitBreakerTransition(feed, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(feed, from, to).Inc()
	CircuitBreakerState.WithLabelValues(feed).Set(float64(state))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
