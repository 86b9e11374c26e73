package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "projectbrowser"

var (
	registry = prometheus.NewRegistry()

	phaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_phase_total",
			Help:      "Install workflow phases run, by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_phase_duration_seconds",
			Help:      "Duration of install workflow phases in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
		},
		[]string{"phase"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog result cache lookups, by source and result",
		},
		[]string{"source", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code",
		},
		[]string{"route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	maintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Scheduled maintenance job runs, by job and outcome",
		},
		[]string{"job", "outcome"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		phaseTotal,
		phaseDuration,
		cacheLookups,
		httpRequests,
		httpDuration,
		maintenanceRuns,
	)
}

// Registry exposes the metrics registry, mainly for tests
func Registry() *prometheus.Registry {
	return registry
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordPhase counts one install workflow phase and observes its duration
func RecordPhase(phase string, started time.Time, err error) {
	phaseTotal.WithLabelValues(phase, outcome(err)).Inc()
	phaseDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}

// RecordCacheLookup counts a catalog cache hit or miss
func RecordCacheLookup(sourceID string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(sourceID, result).Inc()
}

// RecordHTTPRequest counts a served request
func RecordHTTPRequest(route string, code int, elapsed time.Duration) {
	httpRequests.WithLabelValues(route, http.StatusText(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordMaintenance counts a scheduled maintenance run
func RecordMaintenance(job string, err error) {
	maintenanceRuns.WithLabelValues(job, outcome(err)).Inc()
}
