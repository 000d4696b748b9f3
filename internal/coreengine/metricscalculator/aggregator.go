package metricscalculator

import (
	"sort"
	"strings"

	"voice-order-eval-platform/backend/internal/datastore"
)

// StepComparison carries every model's comparison for one scenario step.
// TranscriptionScores holds WER/CER per model for steps with a reference
// voice text, keyed by model id.
type StepComparison struct {
	StepID              string                        `json:"step_id"`
	StepNumber          int                           `json:"step_number"`
	GroundTruthCart     []datastore.CartItem          `json:"ground_truth_cart"`
	Comparisons         []CartComparisonResult        `json:"comparisons"`
	TranscriptionScores map[string]TranscriptionScore `json:"transcription_scores,omitempty"`
}

// ModelSummary aggregates one model's results over all scored steps of a
// scenario. Averages are weighted by the number of steps the model actually
// produced a result for.
type ModelSummary struct {
	TotalPrecision    float64 `json:"total_precision"`
	TotalRecall       float64 `json:"total_recall"`
	TotalF1           float64 `json:"total_f1"`
	ExactMatches      int     `json:"exact_matches"`
	TotalSteps        int     `json:"total_steps"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalLatencyMs    int64   `json:"total_latency_ms"`
	TotalCost         float64 `json:"total_cost"`
	AvgPrecision      float64 `json:"avg_precision"`
	AvgRecall         float64 `json:"avg_recall"`
	AvgF1             float64 `json:"avg_f1"`
	ExactMatchRate    float64 `json:"exact_match_rate"`
	// AvgWER and AvgCER average over the steps that carried a reference
	// voice text and a non-empty transcription, which can be fewer than
	// TotalSteps.
	AvgWER float64 `json:"avg_wer"`
	AvgCER float64 `json:"avg_cer"`
}

// ScenarioComparison is the full scoring report for a scenario.
type ScenarioComparison struct {
	ScenarioID     string                   `json:"scenario_id"`
	ScenarioName   string                   `json:"scenario_name"`
	ModelsExecuted []string                 `json:"models_executed"`
	Steps          []StepComparison         `json:"steps"`
	Summary        map[string]*ModelSummary `json:"summary"`
}

// CostEstimator converts a model's token usage into an estimated cost.
// A nil estimator prices everything at zero.
type CostEstimator func(modelID string, inputTokens, outputTokens int64) float64

// BuildScenarioComparison scores every step of a scenario for every model.
// Steps without a ground-truth cart carry nothing to score and are skipped.
// The model set is the configured list plus any model that left results on a
// step, so reports stay complete after the configured list changes.
func BuildScenarioComparison(scenario *datastore.Scenario, configuredModels []string, estimateCost CostEstimator) *ScenarioComparison {
	models := collectModels(scenario, configuredModels)

	summary := make(map[string]*ModelSummary, len(models))
	for _, model := range models {
		summary[model] = &ModelSummary{}
	}

	steps := make([]datastore.ScenarioStep, len(scenario.Steps))
	copy(steps, scenario.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	type transcriptionTotals struct {
		wer, cer float64
		scored   int
	}
	transcription := make(map[string]*transcriptionTotals, len(models))

	stepComparisons := []StepComparison{}
	for _, step := range steps {
		if len(step.GroundTruthCart) == 0 {
			continue
		}
		reference := strings.TrimSpace(step.VoiceText.String)

		comparisons := make([]CartComparisonResult, 0, len(models))
		var transcriptionScores map[string]TranscriptionScore
		for _, model := range models {
			result, hasResult := step.ModelResults[model]

			comparison := CompareCarts(step.GroundTruthCart, result.PredictedCart, model)
			comparisons = append(comparisons, comparison)

			if !hasResult {
				continue
			}
			ms := summary[model]
			ms.TotalPrecision += comparison.Precision
			ms.TotalRecall += comparison.Recall
			ms.TotalF1 += comparison.F1Score
			if comparison.ExactMatch {
				ms.ExactMatches++
			}
			ms.TotalSteps++
			ms.TotalInputTokens += result.InputTokens
			ms.TotalOutputTokens += result.OutputTokens
			ms.TotalLatencyMs += result.LatencyMs
			if estimateCost != nil {
				ms.TotalCost += estimateCost(model, result.InputTokens, result.OutputTokens)
			}

			// Transcription scoring needs both a reference and a produced
			// transcription; failed calls leave nothing to score.
			if reference != "" && strings.TrimSpace(result.Transcription) != "" {
				score := ScoreTranscription(reference, result.Transcription)
				if transcriptionScores == nil {
					transcriptionScores = make(map[string]TranscriptionScore)
				}
				transcriptionScores[model] = score
				tt := transcription[model]
				if tt == nil {
					tt = &transcriptionTotals{}
					transcription[model] = tt
				}
				tt.wer += score.WER
				tt.cer += score.CER
				tt.scored++
			}
		}

		stepComparisons = append(stepComparisons, StepComparison{
			StepID:              step.ID,
			StepNumber:          step.StepNumber,
			GroundTruthCart:     step.GroundTruthCart,
			Comparisons:         comparisons,
			TranscriptionScores: transcriptionScores,
		})
	}

	for model, ms := range summary {
		if ms.TotalSteps == 0 {
			continue
		}
		n := float64(ms.TotalSteps)
		ms.AvgPrecision = Round4(ms.TotalPrecision / n)
		ms.AvgRecall = Round4(ms.TotalRecall / n)
		ms.AvgF1 = Round4(ms.TotalF1 / n)
		ms.ExactMatchRate = Round4(float64(ms.ExactMatches) / n)
		if tt := transcription[model]; tt != nil && tt.scored > 0 {
			ms.AvgWER = Round4(tt.wer / float64(tt.scored))
			ms.AvgCER = Round4(tt.cer / float64(tt.scored))
		}
	}

	return &ScenarioComparison{
		ScenarioID:     scenario.ID,
		ScenarioName:   scenario.Name,
		ModelsExecuted: models,
		Steps:          stepComparisons,
		Summary:        summary,
	}
}

// collectModels returns the configured models followed by any model present
// only in stored step results, the latter in sorted order.
func collectModels(scenario *datastore.Scenario, configured []string) []string {
	seen := make(map[string]bool, len(configured))
	models := make([]string, 0, len(configured))
	for _, model := range configured {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		models = append(models, model)
	}

	stragglers := []string{}
	for _, step := range scenario.Steps {
		for model := range step.ModelResults {
			if model == "" || seen[model] {
				continue
			}
			seen[model] = true
			stragglers = append(stragglers, model)
		}
	}
	sort.Strings(stragglers)
	return append(models, stragglers...)
}
