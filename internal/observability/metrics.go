package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	chatRequestTotal    *prometheus.CounterVec
	chatRequestDuration prometheus.Histogram

	providerAttemptTotal    *prometheus.CounterVec
	providerAttemptDuration *prometheus.HistogramVec
	providerCooldown        *prometheus.GaugeVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	storeFallbackActive prometheus.Gauge
	storeOperationTotal *prometheus.CounterVec

	activeSessions         prometheus.Gauge
	transcriptLoadDuration prometheus.Histogram
	transcriptSaveDuration prometheus.Histogram

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			chatRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_request_total",
					Help: "Total chat requests by status.",
				},
				[]string{"status"},
			),
			chatRequestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_request_duration_seconds",
					Help:    "Chat request duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			providerAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_attempt_total",
					Help: "Total model invocations by provider kind and status.",
				},
				[]string{"provider", "status"},
			),
			providerAttemptDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_attempt_duration_seconds",
					Help:    "Model invocation duration in seconds by provider kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			storeFallbackActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "store_fallback_active",
					Help: "Session store volatile-fallback state (1 active, 0 durable).",
				},
			),
			storeOperationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_operation_total",
					Help: "Total session store operations by operation and backend.",
				},
				[]string{"op", "backend"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active conversation session count.",
				},
			),
			transcriptLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_load_duration_seconds",
					Help:    "Transcript load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			transcriptSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_save_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.chatRequestTotal,
			m.chatRequestDuration,
			m.providerAttemptTotal,
			m.providerAttemptDuration,
			m.providerCooldown,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.storeFallbackActive,
			m.storeOperationTotal,
			m.activeSessions,
			m.transcriptLoadDuration,
			m.transcriptSaveDuration,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordChatRequest(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.chatRequestTotal.WithLabelValues(status).Inc()
	m.chatRequestDuration.Observe(duration.Seconds())
}

func RecordProviderAttempt(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerAttemptTotal.WithLabelValues(provider, status).Inc()
	m.providerAttemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func SetStoreFallback(active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.storeFallbackActive.Set(value)
}

func RecordStoreOperation(op, backend string) {
	m := getMetrics()
	m.storeOperationTotal.WithLabelValues(op, backend).Inc()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordTranscriptLoad(duration time.Duration) {
	m := getMetrics()
	m.transcriptLoadDuration.Observe(duration.Seconds())
}

func RecordTranscriptSave(duration time.Duration) {
	m := getMetrics()
	m.transcriptSaveDuration.Observe(duration.Seconds())
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}
