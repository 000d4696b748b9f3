package metricscalculator

import (
	"fmt"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// CalculateWER computes the Word Error Rate of a model's transcription
// against the step's reference voice text.
// WER = (substitutions + insertions + deletions) / words in reference
func CalculateWER(reference string, transcription string) (float64, error) {
	if reference == "" && transcription == "" {
		return 0.0, nil
	}
	if reference == "" {
		words := strings.Fields(transcription)
		return 1.0, fmt.Errorf("reference is empty, cannot normalize WER (transcription: %d words, treated as 100%% error)", len(words))
	}

	refWords := strings.Fields(reference)
	hypWords := strings.Fields(transcription)

	if len(refWords) == 0 {
		if len(hypWords) == 0 {
			return 0.0, nil
		}
		return 1.0, fmt.Errorf("reference has 0 words after tokenization, cannot normalize WER (transcription: %d words, treated as 100%% error)", len(hypWords))
	}

	options := levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: func(sourceItem, targetItem interface{}) bool {
			return sourceItem.(string) == targetItem.(string)
		},
	}

	refItems := make([]interface{}, len(refWords))
	for i, v := range refWords {
		refItems[i] = v
	}
	hypItems := make([]interface{}, len(hypWords))
	for i, v := range hypWords {
		hypItems[i] = v
	}

	distance := levenshtein.DistanceForMatrix(refItems, hypItems, options)
	return float64(distance) / float64(len(refWords)), nil
}

// CalculateCER computes the Character Error Rate of a model's transcription
// against the step's reference voice text. Operates on runes so Greek text
// is counted per character, not per byte.
// CER = (substitutions + insertions + deletions) / characters in reference
func CalculateCER(reference string, transcription string) (float64, error) {
	if reference == "" && transcription == "" {
		return 0.0, nil
	}
	if reference == "" {
		return 1.0, fmt.Errorf("reference is empty, cannot normalize CER (transcription: %d chars, treated as 100%% error)", len(transcription))
	}

	refRunes := []rune(reference)
	hypRunes := []rune(transcription)

	options := levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: func(sourceItem, targetItem interface{}) bool {
			return sourceItem.(rune) == targetItem.(rune)
		},
	}

	refItems := make([]interface{}, len(refRunes))
	for i, v := range refRunes {
		refItems[i] = v
	}
	hypItems := make([]interface{}, len(hypRunes))
	for i, v := range hypRunes {
		hypItems[i] = v
	}

	distance := levenshtein.DistanceForMatrix(refItems, hypItems, options)
	return float64(distance) / float64(len(refRunes)), nil
}

// TranscriptionScore bundles both error rates for one model's transcription.
type TranscriptionScore struct {
	WER float64 `json:"wer"`
	CER float64 `json:"cer"`
}

// ScoreTranscription computes WER and CER in one call. Normalization errors
// (empty reference with non-empty transcription) degrade to a score of 1.0
// rather than failing the report.
func ScoreTranscription(reference, transcription string) TranscriptionScore {
	wer, _ := CalculateWER(reference, transcription)
	cer, _ := CalculateCER(reference, transcription)
	return TranscriptionScore{WER: Round4(wer), CER: Round4(cer)}
}
