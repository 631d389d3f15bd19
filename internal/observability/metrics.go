// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediafetch"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Job metrics
	JobsCreated    prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsSkipped    prometheus.Counter
	JobsInProgress prometheus.Gauge
	JobDuration    prometheus.Histogram

	// Pipeline metrics
	StreamBytes       prometheus.Counter
	StageFailures     *prometheus.CounterVec
	TranscodeDuration prometheus.Histogram
	TranscodeWait     prometheus.Histogram
	ResolverAttempts  *prometheus.CounterVec
	PlaylistItems     *prometheus.CounterVec

	// Storage metrics
	CleanupJobsTotal prometheus.Counter
	StoredJobsTotal  prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge
}

// New creates and registers all application metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics on reg. Tests pass a fresh prometheus.NewRegistry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Job metrics
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of jobs created",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of jobs that failed",
		}),
		JobsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "skipped_total",
			Help:      "Total number of jobs skipped because the file already existed",
		}),
		JobsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_progress",
			Help:      "Number of jobs currently in progress",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Histogram of job duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Pipeline metrics
		StreamBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stream_bytes_total",
			Help:      "Total bytes pulled from remote streams",
		}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total number of download failures by stage",
		}, []string{"stage"}),
		TranscodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transcode",
			Name:      "duration_seconds",
			Help:      "Histogram of engine run time in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		TranscodeWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transcode",
			Name:      "queue_wait_seconds",
			Help:      "Histogram of time spent waiting for the engine lock",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ResolverAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "attempts_total",
			Help:      "Total number of resolution attempts by client and outcome",
		}, []string{"client", "outcome"}),
		PlaylistItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playlist",
			Name:      "items_total",
			Help:      "Total number of playlist items by outcome",
		}, []string{"outcome"}),

		// Storage metrics
		CleanupJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_jobs_total",
			Help:      "Total number of expired job records cleaned up",
		}),
		StoredJobsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "jobs_current",
			Help:      "Current number of stored jobs",
		}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// JobTimer returns a function to record job duration.
func (m *Metrics) JobTimer() func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordJobCreated increments the jobs created counter.
func (m *Metrics) RecordJobCreated() {
	if m == nil {
		return
	}

	m.JobsCreated.Inc()
	m.JobsInProgress.Inc()
}

// RecordJobCompleted records a completed job.
func (m *Metrics) RecordJobCompleted() {
	if m == nil {
		return
	}

	m.JobsCompleted.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobSkipped records a job that found its output already on disk.
func (m *Metrics) RecordJobSkipped() {
	if m == nil {
		return
	}

	m.JobsSkipped.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobFailed records a failed job.
func (m *Metrics) RecordJobFailed() {
	if m == nil {
		return
	}

	m.JobsFailed.Inc()
	m.JobsInProgress.Dec()
}

// RecordStreamBytes adds streamed bytes.
func (m *Metrics) RecordStreamBytes(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.StreamBytes.Add(float64(n))
}

// RecordStageFailure counts a download failure in stage.
func (m *Metrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}

	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordTranscode records lock wait and run time of one engine call.
func (m *Metrics) RecordTranscode(wait, run time.Duration) {
	if m == nil {
		return
	}

	m.TranscodeWait.Observe(wait.Seconds())
	m.TranscodeDuration.Observe(run.Seconds())
}

// RecordResolverAttempt records one client attempt.
func (m *Metrics) RecordResolverAttempt(client, outcome string) {
	if m == nil {
		return
	}

	m.ResolverAttempts.WithLabelValues(client, outcome).Inc()
}

// RecordPlaylistItem records one playlist item outcome.
func (m *Metrics) RecordPlaylistItem(outcome string) {
	if m == nil {
		return
	}

	m.PlaylistItems.WithLabelValues(outcome).Inc()
}

// RecordCleanup records cleanup metrics.
func (m *Metrics) RecordCleanup(jobs int) {
	if m == nil {
		return
	}

	m.CleanupJobsTotal.Add(float64(jobs))
}

// SetStoredJobs sets the number of stored jobs.
func (m *Metrics) SetStoredJobs(count int) {
	if m == nil {
		return
	}

	m.StoredJobsTotal.Set(float64(count))
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}
