// Package metrics provides Prometheus metrics for the medrank scoring service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultSampleInterval = 10 * time.Second
)

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	sampleInterval   time.Duration
	constLabels      map[string]string
	registry         prometheus.Registerer

	// refresh pipeline
	refreshRuns          *prometheus.CounterVec
	refreshDuration      *prometheus.HistogramVec
	refreshLastSuccess   *prometheus.GaugeVec
	refreshInProgress    *prometheus.GaugeVec
	segmentsScored       *prometheus.GaugeVec
	segmentFailures      *prometheus.CounterVec
	eventsScanned        *prometheus.CounterVec
	eventsDropped        *prometheus.CounterVec
	priorRate            *prometheus.GaugeVec
	priorSampleSize      prometheus.Gauge
	notificationFailures prometheus.Counter

	// stats store
	storeWriteLatency *prometheus.HistogramVec
	storeQueryLatency *prometheus.HistogramVec
	storeRows         *prometheus.GaugeVec
	storeQueryErrors  *prometheus.CounterVec

	// recommendation queries
	recommendations      prometheus.Counter
	recommendationsEmpty prometheus.Counter
	recommendLatency     prometheus.Histogram

	// queue / worker
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    prometheus.Counter
	queueDequeued    prometheus.Counter
	workerCount      prometheus.Gauge
	workerActive     prometheus.Gauge
	workerErrors     prometheus.Counter
	workerJobLatency prometheus.Histogram

	// http
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "medrank",
		subsystem:        "performance",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		sampleInterval:   defaultSampleInterval,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// SampleInterval is how often gauge-style metrics should be sampled.
func (m *Manager) SampleInterval() time.Duration { return m.sampleInterval }

// Enabled reports whether recorders write to collectors.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.refreshRuns = auto.NewCounterVec(m.counterOpts("refresh_runs_total", "Refresh attempts by period and outcome"), []string{"period", "outcome"})
	m.refreshDuration = auto.NewHistogramVec(m.histOpts("refresh_duration_seconds", "Wall time of a period refresh"), []string{"period"})
	m.refreshLastSuccess = auto.NewGaugeVec(m.gaugeOpts("refresh_last_success_unix", "Unix time of the last successful refresh per period"), []string{"period"})
	m.refreshInProgress = auto.NewGaugeVec(m.gaugeOpts("refresh_in_progress", "1 while a refresh for the period is running"), []string{"period"})
	m.segmentsScored = auto.NewGaugeVec(m.gaugeOpts("segments_scored", "Segments written by the last refresh, by period and dimension"), []string{"period", "dimension"})
	m.segmentFailures = auto.NewCounterVec(m.counterOpts("segment_failures_total", "Segments skipped because aggregation or scoring failed"), []string{"period", "stage"})
	m.eventsScanned = auto.NewCounterVec(m.counterOpts("events_scanned_total", "Raw outcome events read from the log"), []string{"period"})
	m.eventsDropped = auto.NewCounterVec(m.counterOpts("events_dropped_total", "Raw outcome events that could not be attributed to a hospital"), []string{"period"})
	m.priorRate = auto.NewGaugeVec(m.gaugeOpts("global_prior_rate", "Current global prior rates"), []string{"rate"})
	m.priorSampleSize = auto.NewGauge(m.gaugeOpts("global_prior_sample_size", "Events behind the current global prior"))
	m.notificationFailures = auto.NewCounter(m.counterOpts("notification_failures_total", "Snapshot notifications that could not be published"))

	m.storeWriteLatency = auto.NewHistogramVec(m.histOpts("store_write_latency_milliseconds", "Stats store write latency"), []string{"backend"})
	m.storeQueryLatency = auto.NewHistogramVec(m.histOpts("store_query_latency_milliseconds", "Stats store read latency"), []string{"backend"})
	m.storeRows = auto.NewGaugeVec(m.gaugeOpts("store_rows", "Rows held per period"), []string{"period"})
	m.storeQueryErrors = auto.NewCounterVec(m.counterOpts("store_query_errors_total", "Failed stats store reads"), []string{"backend"})

	m.recommendations = auto.NewCounter(m.counterOpts("recommendations_total", "Recommendation queries served"))
	m.recommendationsEmpty = auto.NewCounter(m.counterOpts("recommendations_empty_total", "Recommendation queries with no ranking data"))
	m.recommendLatency = auto.NewHistogram(m.histOpts("recommend_latency_milliseconds", "Recommendation query latency"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Pending refresh requests"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Refresh queue capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Refresh requests enqueued"))
	m.queueRejected = auto.NewCounter(m.counterOpts("queue_rejected_total", "Refresh requests rejected by backpressure"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Refresh requests taken by workers"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured refresh workers"))
	m.workerActive = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently running a refresh"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Refresh jobs that ended in error"))
	m.workerJobLatency = auto.NewHistogram(m.histOpts("worker_job_latency_milliseconds", "Time spent per refresh job"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histOpts("http_request_duration_milliseconds", "HTTP request duration"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and kind"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordRefresh counts a refresh attempt; outcome is "success", "failed", "busy" or "aborted".
func RecordRefresh(period, outcome string, d time.Duration) {
	if !on() {
		return
	}
	globalManager.refreshRuns.WithLabelValues(period, outcome).Inc()
	if outcome == "success" {
		globalManager.refreshDuration.WithLabelValues(period).Observe(d.Seconds())
		globalManager.refreshLastSuccess.WithLabelValues(period).Set(float64(time.Now().Unix()))
	}
}

// SetRefreshInProgress flags a running refresh for the period.
func SetRefreshInProgress(period string, running bool) {
	if !on() {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	globalManager.refreshInProgress.WithLabelValues(period).Set(v)
}

// UpdateSegmentsScored records how many rows of a dimension the last refresh wrote.
func UpdateSegmentsScored(period, dimension string, n int) {
	if !on() {
		return
	}
	globalManager.segmentsScored.WithLabelValues(period, dimension).Set(float64(n))
}

// RecordSegmentFailures counts skipped segments; stage is "aggregate" or "score".
func RecordSegmentFailures(period, stage string, n int) {
	if !on() || n <= 0 {
		return
	}
	globalManager.segmentFailures.WithLabelValues(period, stage).Add(float64(n))
}

// RecordEventsScanned counts events read (and dropped) for a period.
func RecordEventsScanned(period string, scanned, dropped int) {
	if !on() {
		return
	}
	globalManager.eventsScanned.WithLabelValues(period).Add(float64(scanned))
	if dropped > 0 {
		globalManager.eventsDropped.WithLabelValues(period).Add(float64(dropped))
	}
}

// UpdateGlobalPrior publishes the current prior.
func UpdateGlobalPrior(interest, booking, completion float64, sampleSize int) {
	if !on() {
		return
	}
	globalManager.priorRate.WithLabelValues("interest").Set(interest)
	globalManager.priorRate.WithLabelValues("booking").Set(booking)
	globalManager.priorRate.WithLabelValues("completion").Set(completion)
	globalManager.priorSampleSize.Set(float64(sampleSize))
}

// RecordNotificationFailure counts a snapshot notification that was not delivered.
func RecordNotificationFailure() {
	if !on() {
		return
	}
	globalManager.notificationFailures.Inc()
}

// RecordStoreWriteLatency records a period replace.
func RecordStoreWriteLatency(backend string, latencyMs float64) {
	if !on() {
		return
	}
	globalManager.storeWriteLatency.WithLabelValues(backend).Observe(latencyMs)
}

// RecordStoreQueryLatency records a read.
func RecordStoreQueryLatency(backend string, latencyMs float64) {
	if !on() {
		return
	}
	globalManager.storeQueryLatency.WithLabelValues(backend).Observe(latencyMs)
}

// RecordStoreQueryError counts a failed read.
func RecordStoreQueryError(backend string) {
	if !on() {
		return
	}
	globalManager.storeQueryErrors.WithLabelValues(backend).Inc()
}

// UpdateStoreRows sets the row count for a period.
func UpdateStoreRows(period string, n int) {
	if !on() {
		return
	}
	globalManager.storeRows.WithLabelValues(period).Set(float64(n))
}

// RecordRecommendation counts a served query.
func RecordRecommendation(empty bool, latencyMs float64) {
	if !on() {
		return
	}
	globalManager.recommendations.Inc()
	if empty {
		globalManager.recommendationsEmpty.Inc()
	}
	globalManager.recommendLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the pending refresh requests.
func UpdateQueueSize(size int) {
	if !on() {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !on() {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an accepted request.
func RecordQueueEnqueue() {
	if !on() {
		return
	}
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRejected counts a request refused because the queue was full.
func RecordQueueRejected() {
	if !on() {
		return
	}
	globalManager.queueRejected.Inc()
}

// RecordQueueDequeue counts a request handed to a worker.
func RecordQueueDequeue() {
	if !on() {
		return
	}
	globalManager.queueDequeued.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	if !on() {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) {
	if !on() {
		return
	}
	globalManager.workerActive.Add(float64(delta))
}

// RecordWorkerJob records a finished job.
func RecordWorkerJob(latencyMs float64, failed bool) {
	if !on() {
		return
	}
	globalManager.workerJobLatency.Observe(latencyMs)
	if failed {
		globalManager.workerErrors.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !on() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !on() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !on() {
		return
	}
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !on() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !on() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// SampleInterval is the sampling interval of the global manager.
func SampleInterval() time.Duration { return globalManager.sampleInterval }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
