package modeladapters

import (
	"fmt"
	"log/slog"
	"strings"
)

// RegistryConfig carries per-family credentials plus the call limits shared
// by every adapter. A family without an API key stays unregistered. A non-nil
// Recorder sees every model call.
type RegistryConfig struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	MaxOutputTokens int
	Retry           RetryPolicy
	Recorder        CallRecorder
}

// Registry routes model ids to the adapter serving their family. One adapter
// instance per family holds the sessions for every model id it serves.
type Registry struct {
	gemini    ModelAdapter
	openai    ModelAdapter
	anthropic ModelAdapter
	mock      ModelAdapter
}

// NewRegistry builds adapters for every family with configured credentials.
// The mock adapter is always available.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{mock: InstrumentAdapter(NewMockAdapter(), cfg.Recorder)}

	if cfg.GeminiAPIKey != "" {
		adapter, err := NewGeminiAdapter(cfg.GeminiAPIKey, cfg.MaxOutputTokens, cfg.Retry)
		if err != nil {
			return nil, err
		}
		r.gemini = InstrumentAdapter(adapter, cfg.Recorder)
	}
	if cfg.OpenAIAPIKey != "" {
		adapter, err := NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.MaxOutputTokens, cfg.Retry)
		if err != nil {
			return nil, err
		}
		r.openai = InstrumentAdapter(adapter, cfg.Recorder)
	}
	if cfg.AnthropicAPIKey != "" {
		adapter, err := NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.MaxOutputTokens, cfg.Retry)
		if err != nil {
			return nil, err
		}
		r.anthropic = InstrumentAdapter(adapter, cfg.Recorder)
	}

	slog.Info("model adapter registry initialized",
		"gemini", r.gemini != nil, "openai", r.openai != nil, "anthropic", r.anthropic != nil)
	return r, nil
}

// AdapterFor selects the adapter for a model id by prefix: gemini-* goes to
// Gemini, gpt-* to OpenAI, claude-* to Anthropic. Mock ids and anything
// unrecognized fall back to the mock adapter so scenarios stay runnable
// without credentials.
func (r *Registry) AdapterFor(modelID string) (ModelAdapter, error) {
	switch {
	case strings.HasPrefix(modelID, "gemini"):
		if r.gemini == nil {
			return nil, fmt.Errorf("model %s requires a Gemini API key, but none is configured", modelID)
		}
		return r.gemini, nil
	case strings.HasPrefix(modelID, "gpt"):
		if r.openai == nil {
			return nil, fmt.Errorf("model %s requires an OpenAI API key, but none is configured", modelID)
		}
		return r.openai, nil
	case strings.HasPrefix(modelID, "claude"):
		if r.anthropic == nil {
			return nil, fmt.Errorf("model %s requires an Anthropic API key, but none is configured", modelID)
		}
		return r.anthropic, nil
	case strings.HasPrefix(modelID, "mock"):
		return r.mock, nil
	default:
		slog.Warn("no adapter family matches model id, using mock", "model", modelID)
		return r.mock, nil
	}
}

// ResetScenario clears conversational state held for scenarioID across every
// registered adapter.
func (r *Registry) ResetScenario(scenarioID string) {
	for _, adapter := range []ModelAdapter{r.gemini, r.openai, r.anthropic, r.mock} {
		if adapter != nil {
			adapter.ResetSession(scenarioID)
		}
	}
}
