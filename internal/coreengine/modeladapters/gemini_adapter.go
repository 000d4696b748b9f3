package modeladapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// orderResponseSchema constrains Gemini output to the structured order shape.
// Adapters whose APIs take no schema describe the same shape in prose via
// jsonInstruction instead.
var orderResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"transcription": {
			Type:        genai.TypeString,
			Description: "Verbatim transcription of what the customer said",
		},
		"ai_response": {
			Type:        genai.TypeString,
			Description: "The assistant's spoken reply to the customer",
		},
		"order": {
			Type:        genai.TypeArray,
			Description: "The complete current order after this turn",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":       {Type: genai.TypeString},
					"quantity": {Type: genai.TypeInteger},
					"unit": {
						Type: genai.TypeString,
						Enum: []string{"KOYTA", "ΤΕΜΑΧΙΟ", "CAN", "ΠΕΝΤΑΔΑ", "ΚΑΣΕΤΙΝΑ"},
					},
				},
				Required: []string{"id", "quantity", "unit"},
			},
		},
	},
	Required: []string{"transcription", "ai_response", "order"},
}

// GeminiAdapter drives Gemini models through the google.golang.org/genai SDK
// with native audio input and schema-constrained JSON output.
type GeminiAdapter struct {
	client          *genai.Client
	maxOutputTokens int32
	retry           RetryPolicy

	mu       sync.Mutex
	sessions map[string][]*genai.Content
}

func NewGeminiAdapter(apiKey string, maxOutputTokens int, retry RetryPolicy) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is not configured")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiAdapter{
		client:          client,
		maxOutputTokens: int32(maxOutputTokens),
		retry:           retry,
		sessions:        make(map[string][]*genai.Content),
	}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) SendStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	userContent := geminiUserContent(req)
	key := sessionKey(req.ScenarioID, req.ModelID)

	a.mu.Lock()
	history := a.sessions[key]
	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, userContent)
	a.mu.Unlock()

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   orderResponseSchema,
	}
	if a.maxOutputTokens > 0 {
		config.MaxOutputTokens = a.maxOutputTokens
	}

	var resp *genai.GenerateContentResponse
	err := a.retry.Do(ctx, req.ModelID, func() error {
		var callErr error
		resp, callErr = a.client.Models.GenerateContent(ctx, req.ModelID, contents, config)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("gemini call failed for %s: %w", req.ModelID, err)
	}

	raw := geminiResponseText(resp)
	if raw == "" {
		return nil, fmt.Errorf("gemini returned no text content for %s", req.ModelID)
	}

	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		return nil, err
	}

	// The turn is recorded only after a successful parse, so a failed step
	// leaves the conversation where it was.
	a.mu.Lock()
	a.sessions[key] = append(a.sessions[key], userContent, &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: raw}},
	})
	a.mu.Unlock()

	out := &StepResponse{
		Transcription: parsed.Transcription,
		AIResponse:    parsed.AIResponse,
		RawResponse:   raw,
		Cart:          parsed.Cart,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	slog.Debug("gemini step completed",
		"model", req.ModelID, "scenario", req.ScenarioID, "step", req.StepNumber,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens)
	return out, nil
}

// geminiUserContent builds the user turn: a bare audio part when the step has
// audio, otherwise the typed transcript.
func geminiUserContent(req StepRequest) *genai.Content {
	if len(req.AudioData) > 0 {
		return &genai.Content{
			Role: genai.RoleUser,
			Parts: []*genai.Part{{
				InlineData: &genai.Blob{Data: req.AudioData, MIMEType: req.AudioMIME},
			}},
		}
	}
	return &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Transcript}},
	}
}

func geminiResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (a *GeminiAdapter) ResetSession(scenarioID string) {
	a.mu.Lock()
	dropScenarioSessions(a.sessions, scenarioID)
	a.mu.Unlock()
}
