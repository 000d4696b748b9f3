package modeladapters

import (
	"context"

	"voice-order-eval-platform/backend/internal/datastore"
)

// StepRequest carries one scenario step to a model, with the conversation
// identified by ScenarioID so adapters can keep multi-turn session state.
type StepRequest struct {
	ScenarioID   string
	ModelID      string
	StepNumber   int
	AudioData    []byte
	AudioMIME    string
	Transcript   string
	SystemPrompt string
	CurrentCart  []datastore.CartItem
}

// StepResponse is the structured outcome of one model call. RawResponse is
// the exact model output before parsing, kept for debugging bad orders.
type StepResponse struct {
	Transcription string
	AIResponse    string
	RawResponse   string
	Cart          []datastore.CartItem
	InputTokens   int64
	OutputTokens  int64
}

// ModelAdapter is the interface each model family implements. Adapters own
// their conversational session state keyed by scenario id; the orchestrator
// resets a session before replaying a scenario from the top.
type ModelAdapter interface {
	// Name identifies the adapter family.
	Name() string
	// SendStep sends one step's audio (or transcript) within the scenario's
	// conversation and returns the model's structured order response.
	SendStep(ctx context.Context, req StepRequest) (*StepResponse, error)
	// ResetSession drops any conversational history held for a scenario.
	ResetSession(scenarioID string)
}
