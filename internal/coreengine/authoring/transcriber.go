// Package authoring holds the Gemini-backed helpers that prepare scenario
// ground truth: audio transcription and simulated order generation.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const transcribePrompt = `Transcribe the following audio in %s.
Provide ONLY the transcription text, without any additional comments or explanations.
The audio is from a customer ordering products at a tobacco shop.`

// Transcriber turns uploaded voice recordings into ground-truth text.
type Transcriber struct {
	client *genai.Client
	model  string
}

func NewTranscriber(apiKey, model string) (*Transcriber, error) {
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
	return &Transcriber{client: client, model: model}, nil
}

// Transcribe returns the spoken text of the recording. Language defaults to
// Greek, the catalog's language. An empty transcription is not an error; the
// model heard nothing usable.
func (t *Transcriber) Transcribe(ctx context.Context, audioData []byte, mimeType, language string) (string, error) {
	if len(audioData) == 0 {
		return "", errors.New("no audio data to transcribe")
	}
	if language == "" {
		language = "Greek"
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: fmt.Sprintf(transcribePrompt, language)},
			{InlineData: &genai.Blob{Data: audioData, MIMEType: mimeType}},
		},
	}}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcription call failed: %w", err)
	}

	transcription := strings.TrimSpace(responseText(resp))
	if transcription == "" {
		slog.Warn("transcription produced no text", "model", t.model, "mime", mimeType)
		return "", nil
	}
	slog.Info("audio transcribed", "model", t.model, "chars", len(transcription))
	return transcription, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
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
