// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// appEnvIsDev records whether the running environment is dev. No metric in
// this package changes its labels or behavior based on it.
var appEnvIsDev atomic.Bool

// SetAppEnv records whether the running environment is dev; isDevEnv
// reports the recorded value.
func SetAppEnv(env string) {
	appEnvIsDev.Store(strings.EqualFold(env, "dev"))
}

func isDevEnv() bool { return appEnvIsDev.Load() }

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AIRequestsTotal counts LLM calls by provider and agent.
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of LLM requests by provider and agent",
		},
		[]string{"provider", "agent"},
	)
	// AIRequestDuration records durations of LLM calls by provider and agent.
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "agent"},
	)
	// AITokenUsage tracks LLM token consumption by provider, agent, and model.
	AITokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total LLM tokens used",
		},
		[]string{"provider", "agent", "model"},
	)

	// JobsEnqueuedTotal counts content-generation jobs enqueued.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs.
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
	)
	// JobsCompletedTotal counts jobs completed.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{},
	)
	// JobsFailedTotal counts jobs failed.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{},
	)

	// QAScoreHistogram is the distribution of QA agent scores across completed
	// iterations, on the agent's own [0,100] scale.
	QAScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qa_score",
			Help:    "Distribution of QA agent scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	// IterationsHistogram is the distribution of QA feedback-loop iterations
	// spent per completed job.
	IterationsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_iterations_used",
			Help:    "Distribution of QA iterations used per completed job",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	// AgentDurationHistogram records per-agent step durations by agent name.
	AgentDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_step_duration_seconds",
			Help:    "Duration of a single agent pipeline step",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"agent"},
	)

	// CircuitBreakerStatus tracks LLM circuit breaker state per provider/model key.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"key"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AITokenUsage)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(QAScoreHistogram)
	prometheus.MustRegister(IterationsHistogram)
	prometheus.MustRegister(AgentDurationHistogram)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter.
func EnqueueJob() {
	JobsEnqueuedTotal.WithLabelValues().Inc()
}

// StartProcessingJob increments the processing gauge.
func StartProcessingJob() {
	JobsProcessing.Inc()
}

// CompleteJob marks a job complete: decrements processing, records
// iterations used, and increments the completed counter.
func CompleteJob(iterationsUsed int) {
	JobsProcessing.Dec()
	JobsCompletedTotal.WithLabelValues().Inc()
	if iterationsUsed > 0 {
		IterationsHistogram.Observe(float64(iterationsUsed))
	}
}

// FailJob marks a job failed by decrementing the processing gauge and
// incrementing the failed counter.
func FailJob() {
	JobsProcessing.Dec()
	JobsFailedTotal.WithLabelValues().Inc()
}

// RecordAITokenUsage records LLM token consumption.
func RecordAITokenUsage(provider, agent, model string, tokens int) {
	AITokenUsage.WithLabelValues(provider, agent, model).Add(float64(tokens))
}

// RecordQAScore records a QA agent score for a completed iteration.
func RecordQAScore(score float64) {
	QAScoreHistogram.Observe(score)
}

// RecordAgentStepDuration records how long one pipeline step took.
func RecordAgentStepDuration(agent string, d time.Duration) {
	AgentDurationHistogram.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(key string, status int) {
	CircuitBreakerStatus.WithLabelValues(key).Set(float64(status))
}
