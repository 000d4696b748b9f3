package modeladapters

import (
	"context"
	"time"
)

// CallRecorder receives one record per model invocation. Implemented by the
// observability metrics; adapters stay unaware of the metrics backend.
type CallRecorder interface {
	RecordModelCall(model, status string, seconds float64, inputTokens, outputTokens int64)
}

// instrumentedAdapter wraps an adapter and records every SendStep call.
type instrumentedAdapter struct {
	inner    ModelAdapter
	recorder CallRecorder
}

// InstrumentAdapter returns the adapter wrapped with call recording. A nil
// recorder returns the adapter unchanged.
func InstrumentAdapter(adapter ModelAdapter, recorder CallRecorder) ModelAdapter {
	if recorder == nil {
		return adapter
	}
	return &instrumentedAdapter{inner: adapter, recorder: recorder}
}

func (a *instrumentedAdapter) Name() string { return a.inner.Name() }

func (a *instrumentedAdapter) SendStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	start := time.Now()
	resp, err := a.inner.SendStep(ctx, req)
	seconds := time.Since(start).Seconds()
	if err != nil {
		a.recorder.RecordModelCall(req.ModelID, "error", seconds, 0, 0)
		return nil, err
	}
	a.recorder.RecordModelCall(req.ModelID, "success", seconds, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

func (a *instrumentedAdapter) ResetSession(scenarioID string) {
	a.inner.ResetSession(scenarioID)
}
