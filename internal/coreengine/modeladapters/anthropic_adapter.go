package modeladapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter drives Claude models through the anthropic-sdk-go client.
// The Messages API takes no audio input, so each step is sent as its text
// transcript; steps that carry audio but no transcript fail.
type AnthropicAdapter struct {
	client    anthropic.Client
	maxTokens int64
	retry     RetryPolicy

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

func NewAnthropicAdapter(apiKey string, maxOutputTokens int, retry RetryPolicy) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is not configured")
	}
	maxTokens := int64(maxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicAdapter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
		retry:     retry,
		sessions:  make(map[string][]anthropic.MessageParam),
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) SendStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("anthropic models need a text transcript, step %d has none", req.StepNumber)
	}
	userMsg := anthropic.NewUserMessage(anthropic.NewTextBlock(req.Transcript))
	key := sessionKey(req.ScenarioID, req.ModelID)

	a.mu.Lock()
	history := a.sessions[key]
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, userMsg)
	a.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt + jsonInstruction},
		},
		Messages: messages,
	}

	var message *anthropic.Message
	err := a.retry.Do(ctx, req.ModelID, func() error {
		var callErr error
		message, callErr = a.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed for %s: %w", req.ModelID, err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	raw := sb.String()
	if raw == "" {
		return nil, fmt.Errorf("anthropic returned no text content for %s", req.ModelID)
	}

	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.sessions[key] = append(a.sessions[key], userMsg,
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(raw)))
	a.mu.Unlock()

	slog.Debug("anthropic step completed",
		"model", req.ModelID, "scenario", req.ScenarioID, "step", req.StepNumber,
		"input_tokens", message.Usage.InputTokens, "output_tokens", message.Usage.OutputTokens)
	return &StepResponse{
		Transcription: parsed.Transcription,
		AIResponse:    parsed.AIResponse,
		RawResponse:   raw,
		Cart:          parsed.Cart,
		InputTokens:   message.Usage.InputTokens,
		OutputTokens:  message.Usage.OutputTokens,
	}, nil
}

func (a *AnthropicAdapter) ResetSession(scenarioID string) {
	a.mu.Lock()
	dropScenarioSessions(a.sessions, scenarioID)
	a.mu.Unlock()
}
