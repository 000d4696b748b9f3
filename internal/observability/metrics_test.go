package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/api/scenarios", "200", 0.02)
	m.RecordHTTPRequest("GET", "/api/scenarios", "200", 0.04)
	m.RecordHTTPRequest("POST", "/api/scenarios/:id/execute", "409", 0.001)

	expected := `
		# HELP voice_eval_http_requests_total Total HTTP requests by method, route, and status code
		# TYPE voice_eval_http_requests_total counter
		voice_eval_http_requests_total{method="GET",route="/api/scenarios",status="200"} 2
		voice_eval_http_requests_total{method="POST",route="/api/scenarios/:id/execute",status="409"} 1
	`
	if err := testutil.CollectAndCompare(m.HTTPRequests, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
	if n := testutil.CollectAndCount(m.HTTPDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestRecordExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordExecution("full", "completed", 42)
	m.RecordExecution("full", "cancelled", 3)
	m.RecordExecution("single_step", "completed", 7)

	expected := `
		# HELP voice_eval_executions_total Finished scenario executions by mode and final status
		# TYPE voice_eval_executions_total counter
		voice_eval_executions_total{mode="full",status="cancelled"} 1
		voice_eval_executions_total{mode="full",status="completed"} 1
		voice_eval_executions_total{mode="single_step",status="completed"} 1
	`
	if err := testutil.CollectAndCompare(m.Executions, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
}

func TestRecordModelCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordModelCall("gemini-2.5-pro", "success", 4.2, 1200, 300)
	m.RecordModelCall("gemini-2.5-pro", "success", 3.9, 900, 250)
	m.RecordModelCall("gemini-2.5-pro", "error", 1.1, 0, 0)

	expected := `
		# HELP voice_eval_model_calls_total Model invocations by model id and status
		# TYPE voice_eval_model_calls_total counter
		voice_eval_model_calls_total{model="gemini-2.5-pro",status="error"} 1
		voice_eval_model_calls_total{model="gemini-2.5-pro",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.ModelCalls, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}

	tokens := `
		# HELP voice_eval_model_tokens_total Token usage by model id and direction
		# TYPE voice_eval_model_tokens_total counter
		voice_eval_model_tokens_total{direction="input",model="gemini-2.5-pro"} 2100
		voice_eval_model_tokens_total{direction="output",model="gemini-2.5-pro"} 550
	`
	if err := testutil.CollectAndCompare(m.ModelTokens, strings.NewReader(tokens)); err != nil {
		t.Errorf("unexpected token counters: %v", err)
	}
}

func TestRecordExecutionSteps(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordExecutionSteps(5, 1)
	m.RecordExecutionSteps(3, 0)

	expected := `
		# HELP voice_eval_execution_steps_total Executed (step, model) units by outcome
		# TYPE voice_eval_execution_steps_total counter
		voice_eval_execution_steps_total{outcome="failed"} 1
		voice_eval_execution_steps_total{outcome="processed"} 8
	`
	if err := testutil.CollectAndCompare(m.ExecutionSteps, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
}

func TestQueueLengthGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetQueueLength(4)
	m.SetQueueLength(2)

	if v := testutil.ToFloat64(m.QueueLength); v != 2 {
		t.Errorf("queue length = %v, want 2", v)
	}
}
