package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal       *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runIterations  prometheus.Histogram
	runErrorsTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	activeSessions      prometheus.Gauge
	sessionEventsTotal  prometheus.Counter
	sessionOpDuration   *prometheus.HistogramVec
	memorySearchSeconds prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lariat_run_total",
					Help: "Total runner invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lariat_run_duration_seconds",
					Help:    "Runner invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			runIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "lariat_run_iterations",
					Help:    "Model/tool iterations per runner invocation.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			runErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lariat_run_errors_total",
					Help: "Total runner errors by kind.",
				},
				[]string{"kind"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lariat_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lariat_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lariat_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "lariat_active_sessions",
					Help: "Current session count in the store.",
				},
			),
			sessionEventsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "lariat_session_events_total",
					Help: "Total events appended across all sessions.",
				},
			),
			sessionOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lariat_session_op_duration_seconds",
					Help:    "Session store operation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			memorySearchSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "lariat_memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runIterations,
			m.runErrorsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.activeSessions,
			m.sessionEventsTotal,
			m.sessionOpDuration,
			m.memorySearchSeconds,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun records a completed runner invocation.
func RecordRun(provider string, duration time.Duration, iterations int, success bool) {
	m := getMetrics()
	status := "success"
	if !success {
		status = "failure"
	}
	m.runTotal.WithLabelValues(provider, status).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.runIterations.Observe(float64(iterations))
}

// RecordRunError records a runner error by kind.
func RecordRunError(kind string) {
	getMetrics().runErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordToolExecution records a tool execution outcome.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "success"
	if !success {
		status = "failure"
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionEvent counts an appended session event.
func RecordSessionEvent() {
	getMetrics().sessionEventsTotal.Inc()
}

// RecordSessionOp records the duration of a session store operation.
func RecordSessionOp(op string, duration time.Duration) {
	getMetrics().sessionOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMemorySearch records the duration of a memory search.
func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchSeconds.Observe(duration.Seconds())
}
