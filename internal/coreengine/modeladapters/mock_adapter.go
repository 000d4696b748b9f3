package modeladapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-order-eval-platform/backend/internal/datastore"
)

// MockErrorModelID is a reserved model id that makes the mock adapter fail,
// for exercising error paths without real credentials.
const MockErrorModelID = "mock-error"

type mockOrderItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// MockAdapter simulates a model without calling any provider. It carries the
// current cart through unchanged and echoes the step transcript, so full
// executions can run offline.
type MockAdapter struct {
	// Delay is the simulated per-call latency. Zero means 200ms.
	Delay time.Duration

	mu    sync.Mutex
	turns map[string]int
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{turns: make(map[string]int)}
}

func (m *MockAdapter) Name() string { return "mock" }

// SendStep simulates one model turn. The model id "mock-error" fails after
// the simulated delay.
func (m *MockAdapter) SendStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	delay := m.Delay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	key := sessionKey(req.ScenarioID, req.ModelID)
	m.mu.Lock()
	m.turns[key]++
	turn := m.turns[key]
	m.mu.Unlock()

	if req.ModelID == MockErrorModelID {
		return nil, fmt.Errorf("simulated model failure for %s on step %d", req.ModelID, req.StepNumber)
	}

	transcription := req.Transcript
	if transcription == "" {
		transcription = fmt.Sprintf("Simulated transcription for audio step %d", req.StepNumber)
	}
	aiResponse := fmt.Sprintf("Acknowledged order update on turn %d.", turn)

	cart := make([]datastore.CartItem, len(req.CurrentCart))
	copy(cart, req.CurrentCart)

	// The raw response follows the same order schema real adapters instruct
	// their models to emit, so it parses like a real one.
	order := make([]mockOrderItem, len(cart))
	for i, item := range cart {
		order[i] = mockOrderItem{ID: item.ProductID, Quantity: item.Quantity, Unit: item.Unit}
	}
	rawPayload := struct {
		Transcription string          `json:"transcription"`
		AIResponse    string          `json:"ai_response"`
		Order         []mockOrderItem `json:"order"`
		Simulated     bool            `json:"simulated"`
	}{transcription, aiResponse, order, true}
	rawBytes, _ := json.Marshal(rawPayload)

	slog.Debug("mock adapter handled step",
		"model", req.ModelID, "scenario", req.ScenarioID, "step", req.StepNumber, "turn", turn)

	return &StepResponse{
		Transcription: transcription,
		AIResponse:    aiResponse,
		RawResponse:   string(rawBytes),
		Cart:          cart,
		InputTokens:   int64(len(req.SystemPrompt)+len(transcription)) / 4,
		OutputTokens:  int64(len(rawBytes)) / 4,
	}, nil
}

func (m *MockAdapter) ResetSession(scenarioID string) {
	m.mu.Lock()
	dropScenarioSessions(m.turns, scenarioID)
	m.mu.Unlock()
}
