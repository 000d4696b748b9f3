package modeladapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// jsonInstruction is appended to the system prompt for APIs whose JSON mode
// takes no response schema. It spells out the shape ParseOrderResponse
// expects.
const jsonInstruction = "\n\nRespond ONLY with a JSON object of this exact shape:\n" +
	`{"transcription": "<what the customer said>", "ai_response": "<your reply>", ` +
	`"order": [{"id": "<product id>", "quantity": <integer>, "unit": "<one of KOYTA, ΤΕΜΑΧΙΟ, CAN, ΠΕΝΤΑΔΑ, ΚΑΣΕΤΙΝΑ>"}]}` +
	"\nNo markdown fences, no extra text."

// OpenAIAdapter drives GPT audio models through the go-openai SDK using
// chat-completion input_audio parts and JSON mode.
type OpenAIAdapter struct {
	client          *openai.Client
	maxOutputTokens int
	retry           RetryPolicy

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessage
}

func NewOpenAIAdapter(apiKey string, maxOutputTokens int, retry RetryPolicy) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key is not configured")
	}
	return &OpenAIAdapter{
		client:          openai.NewClient(apiKey),
		maxOutputTokens: maxOutputTokens,
		retry:           retry,
		sessions:        make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) SendStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	userMsg, err := openaiUserMessage(req)
	if err != nil {
		return nil, err
	}
	key := sessionKey(req.ScenarioID, req.ModelID)

	a.mu.Lock()
	history := a.sessions[key]
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemPrompt + jsonInstruction,
	})
	messages = append(messages, history...)
	messages = append(messages, userMsg)
	a.mu.Unlock()

	chatReq := openai.ChatCompletionRequest{
		Model:    req.ModelID,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if a.maxOutputTokens > 0 {
		chatReq.MaxCompletionTokens = a.maxOutputTokens
	}

	var resp openai.ChatCompletionResponse
	err = a.retry.Do(ctx, req.ModelID, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai call failed for %s: %w", req.ModelID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices for %s", req.ModelID)
	}

	raw := resp.Choices[0].Message.Content
	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessions[key] = append(a.sessions[key], userMsg, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: raw,
	})
	a.mu.Unlock()

	slog.Debug("openai step completed",
		"model", req.ModelID, "scenario", req.ScenarioID, "step", req.StepNumber,
		"input_tokens", resp.Usage.PromptTokens, "output_tokens", resp.Usage.CompletionTokens)
	return &StepResponse{
		Transcription: parsed.Transcription,
		AIResponse:    parsed.AIResponse,
		RawResponse:   raw,
		Cart:          parsed.Cart,
		InputTokens:   int64(resp.Usage.PromptTokens),
		OutputTokens:  int64(resp.Usage.CompletionTokens),
	}, nil
}

// openaiUserMessage builds the user turn. Audio goes as a base64 input_audio
// part; the chat API accepts only mp3 and wav there.
func openaiUserMessage(req StepRequest) (openai.ChatCompletionMessage, error) {
	if len(req.AudioData) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Transcript,
		}, nil
	}
	format, err := openaiAudioFormat(req.AudioMIME)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeInputAudio,
			InputAudio: &openai.ChatMessageInputAudio{
				Data:   base64.StdEncoding.EncodeToString(req.AudioData),
				Format: format,
			},
		}},
	}, nil
}

func openaiAudioFormat(mimeType string) (string, error) {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "mp3", nil
	case "audio/wav", "audio/x-wav":
		return "wav", nil
	default:
		return "", fmt.Errorf("openai chat audio supports mp3 and wav only, got %q", mimeType)
	}
}

func (a *OpenAIAdapter) ResetSession(scenarioID string) {
	a.mu.Lock()
	dropScenarioSessions(a.sessions, scenarioID)
	a.mu.Unlock()
}
