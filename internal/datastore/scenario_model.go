package datastore

import (
	"database/sql"
	"encoding/json"
	"time"
)

// CartItem is one line of a shopping cart. product_id alone identifies the
// item when carts are matched; quantity and unit are compared values.
type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
}

// ModelExecutionResult is the outcome of replaying one step against one
// model. A re-run overwrites the whole entry for that model.
type ModelExecutionResult struct {
	Transcription string     `json:"transcription,omitempty"`
	AIResponse    string     `json:"ai_response,omitempty"`
	RawResponse   string     `json:"raw_response,omitempty"`
	PredictedCart []CartItem `json:"predicted_cart"`
	InputTokens   int64      `json:"input_tokens"`
	OutputTokens  int64      `json:"output_tokens"`
	LatencyMs     int64      `json:"latency_ms"`
	ExecutedAt    time.Time  `json:"executed_at"`
	Error         string     `json:"error,omitempty"`
}

// ScenarioStep maps to the scenario_steps table. GroundTruthCart and
// ModelResults are stored as JSONB columns; model results are keyed by
// model id.
type ScenarioStep struct {
	ID              string                          `json:"step_id"`
	ScenarioID      string                          `json:"-"`
	StepNumber      int                             `json:"step_number"`
	VoiceFilePath   sql.NullString                  `json:"voice_file_path,omitempty"`
	VoiceText       sql.NullString                  `json:"voice_text,omitempty"`
	GroundTruthCart []CartItem                      `json:"ground_truth_cart"`
	ModelResults    map[string]ModelExecutionResult `json:"model_results"`
	CreatedAt       time.Time                       `json:"created_at"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

// HasVoiceFile reports whether an audio recording has been uploaded for the
// step. Steps without audio cannot be replayed and are skipped.
func (s *ScenarioStep) HasVoiceFile() bool {
	return s.VoiceFilePath.Valid && s.VoiceFilePath.String != ""
}

// Scenario maps to the scenarios table. Steps are owned exclusively by the
// scenario (deleting the scenario deletes them) and are kept ordered by
// step_number.
type Scenario struct {
	ID           string         `json:"scenario_id"`
	Name         string         `json:"name"`
	Description  sql.NullString `json:"description,omitempty"`
	SystemPrompt sql.NullString `json:"system_prompt,omitempty"`
	Steps        []ScenarioStep `json:"steps"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// MarshalCartToJSON encodes a cart for a JSONB column. A nil cart is stored
// as an empty array, never SQL NULL.
func MarshalCartToJSON(items []CartItem) (json.RawMessage, error) {
	if items == nil {
		return json.RawMessage("[]"), nil
	}
	bytes, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(bytes), nil
}

// UnmarshalJSONToCart decodes a JSONB cart column. NULL and empty values
// decode to an empty cart.
func UnmarshalJSONToCart(data json.RawMessage) ([]CartItem, error) {
	if data == nil || string(data) == "null" || string(data) == "" {
		return []CartItem{}, nil
	}
	var items []CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarshalModelResultsToJSON encodes the per-model result map for a JSONB
// column. A nil map is stored as an empty object.
func MarshalModelResultsToJSON(results map[string]ModelExecutionResult) (json.RawMessage, error) {
	if results == nil {
		return json.RawMessage("{}"), nil
	}
	bytes, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(bytes), nil
}

// UnmarshalJSONToModelResults decodes the per-model result map column.
func UnmarshalJSONToModelResults(data json.RawMessage) (map[string]ModelExecutionResult, error) {
	if data == nil || string(data) == "null" || string(data) == "" {
		return map[string]ModelExecutionResult{}, nil
	}
	var results map[string]ModelExecutionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = map[string]ModelExecutionResult{}
	}
	return results, nil
}
