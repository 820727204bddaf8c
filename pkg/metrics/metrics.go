package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Pipeline metrics
	CallsProcessedTotal *prometheus.CounterVec
	ProcessingDuration  prometheus.Histogram
	StageDuration       *prometheus.HistogramVec
	ActiveCalls         prometheus.Gauge
	QueueDepth          prometheus.Gauge

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageFallbackTotal   prometheus.Counter

	// STT metrics
	STTRequestsTotal *prometheus.CounterVec
	STTLatency       *prometheus.HistogramVec

	// Analysis metrics
	ComplianceFlagsTotal *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsProcessedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_calls_processed_total",
				Help: "Total number of call pipeline runs by terminal status",
			},
			[]string{"status"},
		)

		ProcessingDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callinsight_processing_duration_seconds",
				Help:    "End-to-end duration of one call pipeline run",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~1h
			},
		)

		StageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_stage_duration_seconds",
				Help:    "Duration of individual pipeline stages",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"stage"},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callinsight_active_calls",
				Help: "Number of calls currently being processed",
			},
		)

		QueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callinsight_queue_depth",
				Help: "Number of calls waiting in the processing queue",
			},
		)

		StorageOperationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_storage_operations_total",
				Help: "Storage gateway operations by backend and result",
			},
			[]string{"operation", "backend", "result"},
		)

		StorageFallbackTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callinsight_storage_fallback_total",
				Help: "Number of storage gateway fallback transitions to the filesystem backend",
			},
		)

		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_stt_requests_total",
				Help: "Transcription requests by provider and result",
			},
			[]string{"provider", "result"},
		)

		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callinsight_stt_latency_seconds",
				Help:    "Latency of transcription requests",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"provider"},
		)

		ComplianceFlagsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_compliance_flags_total",
				Help: "Compliance flags emitted by flag type",
			},
			[]string{"flag_type"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callinsight_amqp_published_messages_total",
				Help: "Analysis events published via AMQP by result",
			},
			[]string{"result"},
		)

		AMQPConnectionErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callinsight_amqp_connection_errors_total",
				Help: "AMQP connection failures",
			},
		)

		registry.MustRegister(
			CallsProcessedTotal,
			ProcessingDuration,
			StageDuration,
			ActiveCalls,
			QueueDepth,
			StorageOperationsTotal,
			StorageFallbackTotal,
			STTRequestsTotal,
			STTLatency,
			ComplianceFlagsTotal,
			AMQPPublishedMessages,
			AMQPConnectionErrors,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// ObserveStage records the duration of a pipeline stage when metrics are on.
// Usage: defer metrics.ObserveStage("transcription")()
func ObserveStage(stage string) func() {
	if !metricsEnabled || StageDuration == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// ObserveProcessingDuration records an end-to-end pipeline run duration
func ObserveProcessingDuration(seconds float64) {
	if metricsEnabled && ProcessingDuration != nil {
		ProcessingDuration.Observe(seconds)
	}
}

// IncActiveCalls increments the in-flight call gauge
func IncActiveCalls() {
	if metricsEnabled && ActiveCalls != nil {
		ActiveCalls.Inc()
	}
}

// DecActiveCalls decrements the in-flight call gauge
func DecActiveCalls() {
	if metricsEnabled && ActiveCalls != nil {
		ActiveCalls.Dec()
	}
}

// SetQueueDepth records the current processing queue depth
func SetQueueDepth(depth int) {
	if metricsEnabled && QueueDepth != nil {
		QueueDepth.Set(float64(depth))
	}
}

// RecordCallProcessed increments the pipeline outcome counter
func RecordCallProcessed(status string) {
	if metricsEnabled && CallsProcessedTotal != nil {
		CallsProcessedTotal.WithLabelValues(status).Inc()
	}
}

// RecordStorageOperation increments the storage operation counter
func RecordStorageOperation(operation, backend, result string) {
	if metricsEnabled && StorageOperationsTotal != nil {
		StorageOperationsTotal.WithLabelValues(operation, backend, result).Inc()
	}
}

// RecordStorageFallback increments the fallback transition counter
func RecordStorageFallback() {
	if metricsEnabled && StorageFallbackTotal != nil {
		StorageFallbackTotal.Inc()
	}
}

// RecordSTTRequest increments the transcription request counter
func RecordSTTRequest(provider, result string) {
	if metricsEnabled && STTRequestsTotal != nil {
		STTRequestsTotal.WithLabelValues(provider, result).Inc()
	}
}

// ObserveSTTLatency records transcription latency for a provider
func ObserveSTTLatency(provider string, seconds float64) {
	if metricsEnabled && STTLatency != nil {
		STTLatency.WithLabelValues(provider).Observe(seconds)
	}
}

// RecordComplianceFlag increments the compliance flag counter
func RecordComplianceFlag(flagType string) {
	if metricsEnabled && ComplianceFlagsTotal != nil {
		ComplianceFlagsTotal.WithLabelValues(flagType).Inc()
	}
}

// RecordAMQPPublish increments the AMQP publish counter
func RecordAMQPPublish(result string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(result).Inc()
	}
}

// RecordAMQPConnectionError increments the AMQP connection error counter
func RecordAMQPConnectionError() {
	if metricsEnabled && AMQPConnectionErrors != nil {
		AMQPConnectionErrors.Inc()
	}
}
