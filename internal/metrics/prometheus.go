package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the triage service
type PrometheusMetrics struct {
	// Ingest metrics
	HitsRecordedTotal *prometheus.CounterVec
	HitsDroppedTotal  prometheus.Counter
	HitsFailedTotal   prometheus.Counter
	IngestQueueDepth  prometheus.Gauge
	HitRecordDuration prometheus.Histogram

	// Triage metrics
	IgnorePatterns        prometheus.Gauge
	RedirectsCreatedTotal *prometheus.CounterVec
	ExportsTotal          *prometheus.CounterVec
	ExportDuration        *prometheus.HistogramVec
	RetentionDeletedTotal prometheus.Counter

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Ingest metrics
		HitsRecordedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_hits_recorded_total",
				Help: "Total number of not-found hits recorded",
			},
			[]string{"device", "ignored"},
		),

		HitsDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_hits_dropped_total",
				Help: "Hits discarded because the ingest queue was full",
			},
		),

		HitsFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_hits_failed_total",
				Help: "Hits that could not be written to storage",
			},
		),

		IngestQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_ingest_queue_depth",
				Help: "Hits waiting in the ingest queue",
			},
		),

		HitRecordDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "triage_hit_record_duration_seconds",
				Help:    "Time from dequeue to stored hit",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Triage metrics
		IgnorePatterns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_ignore_patterns",
				Help: "Number of ignore patterns currently loaded",
			},
		),

		RedirectsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_redirects_created_total",
				Help: "Total number of redirects created from log entries",
			},
			[]string{"status", "retired"},
		),

		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_exports_total",
				Help: "Total number of exports produced",
			},
			[]string{"format", "status"},
		),

		ExportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_export_duration_seconds",
				Help:    "Duration of export generation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),

		RetentionDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_retention_deleted_total",
				Help: "Entries removed by the retention sweeper",
			},
		),

		// Storage metrics
		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// Notification metrics
		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "type", "error"},
		),

		NotificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_notification_duration_seconds",
				Help:    "Duration of notification delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "type"},
		),

		// API metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "triage_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordHit records a stored hit
func (m *PrometheusMetrics) RecordHit(device string, ignored bool, duration time.Duration) {
	label := "false"
	if ignored {
		label = "true"
	}
	m.HitsRecordedTotal.WithLabelValues(device, label).Inc()
	m.HitRecordDuration.Observe(duration.Seconds())
}

// RecordHitDropped records a hit rejected by a full queue
func (m *PrometheusMetrics) RecordHitDropped() {
	m.HitsDroppedTotal.Inc()
}

// RecordHitFailed records a hit the store refused
func (m *PrometheusMetrics) RecordHitFailed() {
	m.HitsFailedTotal.Inc()
}

// UpdateIngestQueueDepth updates the queue depth gauge
func (m *PrometheusMetrics) UpdateIngestQueueDepth(depth int) {
	m.IngestQueueDepth.Set(float64(depth))
}

// UpdateIgnorePatterns updates the loaded pattern gauge
func (m *PrometheusMetrics) UpdateIgnorePatterns(count int) {
	m.IgnorePatterns.Set(float64(count))
}

// RecordRedirectCreated records a created redirect
func (m *PrometheusMetrics) RecordRedirectCreated(status string, retired bool) {
	label := "false"
	if retired {
		label = "true"
	}
	m.RedirectsCreatedTotal.WithLabelValues(status, label).Inc()
}

// RecordExport records an export attempt
func (m *PrometheusMetrics) RecordExport(format, status string, duration time.Duration) {
	m.ExportsTotal.WithLabelValues(format, status).Inc()
	m.ExportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordRetentionDeleted records entries removed by a sweep
func (m *PrometheusMetrics) RecordRetentionDeleted(count int64) {
	m.RetentionDeletedTotal.Add(float64(count))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
	m.NotificationDuration.WithLabelValues(channel, notificationType).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType, errorType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType, errorType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
