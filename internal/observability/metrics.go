package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the platform's Prometheus metrics: HTTP traffic, scenario
// execution outcomes, per-model call performance and token spend, and the
// batch queue depth. Register once at startup and share the instance.
type Metrics struct {
	// HTTPRequests counts requests by method, route template, and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures request latency in seconds by method and route.
	HTTPDuration *prometheus.HistogramVec

	// Executions counts finished scenario executions.
	// Labels: mode (full|single_step), status (completed|failed|cancelled)
	Executions *prometheus.CounterVec

	// ExecutionDuration measures wall time of one execution attempt in seconds.
	ExecutionDuration *prometheus.HistogramVec

	// ExecutionSteps counts (step, model) units by outcome.
	// Labels: outcome (processed|failed)
	ExecutionSteps *prometheus.CounterVec

	// ModelCalls counts model invocations by model id and status.
	ModelCalls *prometheus.CounterVec

	// ModelCallDuration measures one model call in seconds.
	ModelCallDuration *prometheus.HistogramVec

	// ModelTokens counts tokens by model id and direction (input|output).
	ModelTokens *prometheus.CounterVec

	// QueueLength tracks the current batch queue depth.
	QueueLength prometheus.Gauge
}

// NewMetrics creates the metric set on the given registerer. Production code
// passes prometheus.DefaultRegisterer; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_eval_http_requests_total",
				Help: "Total HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_eval_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_eval_executions_total",
				Help: "Finished scenario executions by mode and final status",
			},
			[]string{"mode", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_eval_execution_duration_seconds",
				Help:    "Wall time of one scenario execution attempt in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
		ExecutionSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_eval_execution_steps_total",
				Help: "Executed (step, model) units by outcome",
			},
			[]string{"outcome"},
		),
		ModelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_eval_model_calls_total",
				Help: "Model invocations by model id and status",
			},
			[]string{"model", "status"},
		),
		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_eval_model_call_duration_seconds",
				Help:    "Duration of one model call in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_eval_model_tokens_total",
				Help: "Token usage by model id and direction",
			},
			[]string{"model", "direction"},
		),
		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "voice_eval_queue_length",
				Help: "Current number of scenarios waiting in the batch queue",
			},
		),
	}
}

// RecordHTTPRequest records one served request. The route is the gin template
// path, not the concrete URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordExecution records a finished execution attempt.
func (m *Metrics) RecordExecution(mode, status string, seconds float64) {
	m.Executions.WithLabelValues(mode, status).Inc()
	m.ExecutionDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordExecutionSteps adds a finished attempt's step outcome counts.
func (m *Metrics) RecordExecutionSteps(processed, failed int) {
	if processed > 0 {
		m.ExecutionSteps.WithLabelValues("processed").Add(float64(processed))
	}
	if failed > 0 {
		m.ExecutionSteps.WithLabelValues("failed").Add(float64(failed))
	}
}

// RecordModelCall records one model invocation.
func (m *Metrics) RecordModelCall(model, status string, seconds float64, inputTokens, outputTokens int64) {
	m.ModelCalls.WithLabelValues(model, status).Inc()
	m.ModelCallDuration.WithLabelValues(model).Observe(seconds)
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// SetQueueLength updates the queue depth gauge.
func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}
