// Package metrics defines the Prometheus metrics exposed by the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_pipeline_runs_total",
			Help: "Total pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quayline_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Sanitizer metrics
	InjectionsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_injections_detected_total",
			Help: "Prompt-injection patterns detected by family",
		},
		[]string{"family"},
	)

	InputRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_input_rejections_total",
			Help: "Inbound messages rejected by the sanitizer",
		},
		[]string{"reason"},
	)

	// Classifier metrics
	IntentClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_intent_classifications_total",
			Help: "Intent classifications by category and capability",
		},
		[]string{"category", "capability"},
	)

	// Executor metrics
	SubTaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_subtask_executions_total",
			Help: "Sub-task executions by tool and status",
		},
		[]string{"tool", "status"},
	)

	SubTaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quayline_subtask_retries_total",
			Help: "Sub-task retry attempts after transient failures",
		},
	)

	SubTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quayline_subtask_duration_seconds",
			Help:    "Sub-task execution duration including retries",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// Guard metrics
	GuardVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_guard_verdicts_total",
			Help: "Output validator verdicts",
		},
		[]string{"verdict"},
	)

	GuardRedactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_guard_redactions_total",
			Help: "Redactions applied by rule",
		},
		[]string{"rule"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quayline_sessions_created_total",
			Help: "Total sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quayline_sessions_active",
			Help: "Sessions currently held in the store",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quayline_sessions_evicted_total",
			Help: "Sessions evicted by the idle sweep",
		},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_llm_requests_total",
			Help: "LLM provider requests by status",
		},
		[]string{"status"},
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quayline_llm_request_duration_seconds",
			Help:    "LLM provider request duration",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Backend metrics
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quayline_backend_requests_total",
			Help: "Backend REST requests by method and status class",
		},
		[]string{"method", "status"},
	)

	CredentialInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quayline_credential_invalidations_total",
			Help: "Session credentials invalidated after a 401 response",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quayline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
