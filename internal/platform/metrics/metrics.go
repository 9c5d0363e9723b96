package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the overlay service.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	rendersTotal     prometheus.Counter
	renderDuration   prometheus.Histogram
	statusPollsTotal prometheus.Counter
	pollErrorsTotal  prometheus.Counter
	artifactLoads    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	activeSources    prometheus.Gauge
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	rendersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_renders_total",
		Help: "Total number of scenes rendered by session render loops",
	})
	renderDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "overlay_render_duration_seconds",
		Help:    "Time spent resolving and painting one scene",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})
	statusPollsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_job_status_polls_total",
		Help: "Total number of job status fetches made by trackers",
	})
	pollErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_job_status_poll_errors_total",
		Help: "Total number of failed job status fetches",
	})
	artifactLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_artifact_loads_total",
		Help: "Total number of artifact bundle loads by result",
	}, []string{"result"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_active_sessions",
		Help: "Number of open overlay sessions",
	})
	activeSources := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_active_sources",
		Help: "Number of jobs and share links followed for open sessions",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		rendersTotal,
		renderDuration,
		statusPollsTotal,
		pollErrorsTotal,
		artifactLoads,
		activeSessions,
		activeSources,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		rendersTotal:     rendersTotal,
		renderDuration:   renderDuration,
		statusPollsTotal: statusPollsTotal,
		pollErrorsTotal:  pollErrorsTotal,
		artifactLoads:    artifactLoads,
		activeSessions:   activeSessions,
		activeSources:    activeSources,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetActiveSources sets the gauge of jobs followed for open sessions.
func (m *Metrics) SetActiveSources(n int) {
	m.activeSources.Set(float64(n))
}

// ObserveRender records one render and its duration.
func (m *Metrics) ObserveRender(d time.Duration) {
	m.rendersTotal.Inc()
	m.renderDuration.Observe(d.Seconds())
}

// ObservePoll records one job status fetch.
func (m *Metrics) ObservePoll(err error) {
	m.statusPollsTotal.Inc()
	if err != nil {
		m.pollErrorsTotal.Inc()
	}
}

// ObserveArtifactLoad records one artifact bundle load.
func (m *Metrics) ObserveArtifactLoad(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.artifactLoads.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
