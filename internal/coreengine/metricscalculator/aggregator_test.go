package metricscalculator

import (
	"database/sql"
	"testing"
	"time"

	"voice-order-eval-platform/backend/internal/datastore"
)

func testScenario() *datastore.Scenario {
	return &datastore.Scenario{
		ID:   "sc-1",
		Name: "Morning order",
		Steps: []datastore.ScenarioStep{
			{
				ID:              "st-1",
				StepNumber:      1,
				GroundTruthCart: []datastore.CartItem{item("A", 2, "KOYTA")},
				ModelResults: map[string]datastore.ModelExecutionResult{
					"gemini-2.5-pro": {
						PredictedCart: []datastore.CartItem{item("A", 2, "KOYTA")},
						InputTokens:   100, OutputTokens: 50, LatencyMs: 800,
						ExecutedAt: time.Now(),
					},
					"gemini-2.5-flash": {
						PredictedCart: []datastore.CartItem{item("A", 3, "KOYTA")},
						InputTokens:   90, OutputTokens: 40, LatencyMs: 300,
						ExecutedAt: time.Now(),
					},
				},
			},
			{
				// No ground truth: never scored.
				ID:         "st-2",
				StepNumber: 2,
				ModelResults: map[string]datastore.ModelExecutionResult{
					"gemini-2.5-pro": {PredictedCart: []datastore.CartItem{item("Z", 1, "KOYTA")}},
				},
			},
			{
				ID:              "st-3",
				StepNumber:      3,
				GroundTruthCart: []datastore.CartItem{item("A", 2, "KOYTA"), item("B", 1, "KOYTA")},
				ModelResults: map[string]datastore.ModelExecutionResult{
					"gemini-2.5-pro": {
						PredictedCart: []datastore.CartItem{item("A", 2, "KOYTA"), item("B", 1, "KOYTA")},
						InputTokens:   120, OutputTokens: 60, LatencyMs: 1200,
						ExecutedAt: time.Now(),
					},
				},
			},
		},
	}
}

func TestBuildScenarioComparison(t *testing.T) {
	scenario := testScenario()
	models := []string{"gemini-2.5-pro", "gemini-2.5-flash"}
	estimator := NewCostEstimator(map[string]ModelCost{
		"gemini-2.5-pro": {InputPerMTok: 1.25, OutputPerMTok: 10.0},
	})

	got := BuildScenarioComparison(scenario, models, estimator)

	if got.ScenarioID != "sc-1" || got.ScenarioName != "Morning order" {
		t.Errorf("scenario identity = %q/%q", got.ScenarioID, got.ScenarioName)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("scored steps = %d, want 2 (step without ground truth skipped)", len(got.Steps))
	}
	if got.Steps[0].StepNumber != 1 || got.Steps[1].StepNumber != 3 {
		t.Errorf("step order = %d,%d, want 1,3", got.Steps[0].StepNumber, got.Steps[1].StepNumber)
	}
	for _, step := range got.Steps {
		if len(step.Comparisons) != 2 {
			t.Errorf("step %d comparisons = %d, want one per model", step.StepNumber, len(step.Comparisons))
		}
	}

	pro := got.Summary["gemini-2.5-pro"]
	if pro == nil {
		t.Fatal("missing summary for gemini-2.5-pro")
	}
	if pro.TotalSteps != 2 {
		t.Errorf("pro TotalSteps = %d, want 2", pro.TotalSteps)
	}
	if pro.AvgPrecision != 1.0 || pro.AvgRecall != 1.0 || pro.AvgF1 != 1.0 {
		t.Errorf("pro averages = %v/%v/%v, want all 1.0", pro.AvgPrecision, pro.AvgRecall, pro.AvgF1)
	}
	if pro.ExactMatches != 2 || pro.ExactMatchRate != 1.0 {
		t.Errorf("pro exact matches = %d rate %v, want 2 and 1.0", pro.ExactMatches, pro.ExactMatchRate)
	}
	if pro.TotalInputTokens != 220 || pro.TotalOutputTokens != 110 {
		t.Errorf("pro tokens = %d/%d, want 220/110", pro.TotalInputTokens, pro.TotalOutputTokens)
	}
	if pro.TotalLatencyMs != 2000 {
		t.Errorf("pro latency = %d, want 2000", pro.TotalLatencyMs)
	}
	wantCost := estimator("gemini-2.5-pro", 100, 50) + estimator("gemini-2.5-pro", 120, 60)
	if pro.TotalCost != wantCost {
		t.Errorf("pro cost = %v, want %v", pro.TotalCost, wantCost)
	}

	flash := got.Summary["gemini-2.5-flash"]
	if flash == nil {
		t.Fatal("missing summary for gemini-2.5-flash")
	}
	// Flash only ran step 1 and got the quantity wrong.
	if flash.TotalSteps != 1 {
		t.Errorf("flash TotalSteps = %d, want 1", flash.TotalSteps)
	}
	if flash.AvgPrecision != 0.0 || flash.ExactMatchRate != 0.0 {
		t.Errorf("flash averages = %v precision, %v exact rate, want 0", flash.AvgPrecision, flash.ExactMatchRate)
	}
	// No price configured for flash.
	if flash.TotalCost != 0 {
		t.Errorf("flash cost = %v, want 0", flash.TotalCost)
	}
}

func TestBuildScenarioComparisonIncludesStoredModels(t *testing.T) {
	scenario := testScenario()
	scenario.Steps[0].ModelResults["gpt-4o-audio-preview"] = datastore.ModelExecutionResult{
		PredictedCart: []datastore.CartItem{item("A", 2, "KOYTA")},
	}

	got := BuildScenarioComparison(scenario, []string{"gemini-2.5-pro"}, nil)

	want := []string{"gemini-2.5-pro", "gemini-2.5-flash", "gpt-4o-audio-preview"}
	if len(got.ModelsExecuted) != len(want) {
		t.Fatalf("ModelsExecuted = %v, want %v", got.ModelsExecuted, want)
	}
	for i, m := range want {
		if got.ModelsExecuted[i] != m {
			t.Errorf("ModelsExecuted[%d] = %q, want %q", i, got.ModelsExecuted[i], m)
		}
	}
}

func TestBuildScenarioComparisonNoResults(t *testing.T) {
	scenario := &datastore.Scenario{
		ID:   "sc-2",
		Name: "Unexecuted",
		Steps: []datastore.ScenarioStep{
			{ID: "st-1", StepNumber: 1, GroundTruthCart: []datastore.CartItem{item("A", 1, "KOYTA")}},
		},
	}

	got := BuildScenarioComparison(scenario, []string{"gemini-2.5-pro"}, nil)

	if len(got.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(got.Steps))
	}
	summary := got.Summary["gemini-2.5-pro"]
	if summary.TotalSteps != 0 {
		t.Errorf("TotalSteps = %d, want 0 for a model with no results", summary.TotalSteps)
	}
	if summary.AvgPrecision != 0 || summary.ExactMatchRate != 0 {
		t.Errorf("averages should stay zero, got %v/%v", summary.AvgPrecision, summary.ExactMatchRate)
	}
	// The per-step comparison still reports the miss against the empty cart.
	c := got.Steps[0].Comparisons[0]
	if c.Recall != 0 || len(c.MissingItems) != 1 {
		t.Errorf("comparison for absent result = recall %v, missing %d", c.Recall, len(c.MissingItems))
	}
}

func TestBuildScenarioComparisonScoresTranscriptions(t *testing.T) {
	scenario := testScenario()
	scenario.Steps[0].VoiceText = sql.NullString{String: "θέλω δύο κουτιά", Valid: true}

	pro := scenario.Steps[0].ModelResults["gemini-2.5-pro"]
	pro.Transcription = "θέλω δύο κουτιά"
	scenario.Steps[0].ModelResults["gemini-2.5-pro"] = pro

	// One substituted word out of three.
	flash := scenario.Steps[0].ModelResults["gemini-2.5-flash"]
	flash.Transcription = "θέλω τρία κουτιά"
	scenario.Steps[0].ModelResults["gemini-2.5-flash"] = flash

	got := BuildScenarioComparison(scenario, []string{"gemini-2.5-pro", "gemini-2.5-flash"}, nil)

	scores := got.Steps[0].TranscriptionScores
	if scores == nil {
		t.Fatal("step 1 has no transcription scores despite a reference voice text")
	}
	if s := scores["gemini-2.5-pro"]; s.WER != 0 || s.CER != 0 {
		t.Errorf("pro score = %+v, want perfect", s)
	}
	if s := scores["gemini-2.5-flash"]; s.WER != 0.3333 {
		t.Errorf("flash WER = %v, want 0.3333", s.WER)
	}

	// Step 3 has no reference voice text, so nothing to score.
	if got.Steps[1].TranscriptionScores != nil {
		t.Errorf("step 3 scores = %v, want none", got.Steps[1].TranscriptionScores)
	}

	if avg := got.Summary["gemini-2.5-pro"].AvgWER; avg != 0 {
		t.Errorf("pro AvgWER = %v, want 0", avg)
	}
	if avg := got.Summary["gemini-2.5-flash"].AvgWER; avg != 0.3333 {
		t.Errorf("flash AvgWER = %v, want 0.3333", avg)
	}
}

func TestModelCostEstimate(t *testing.T) {
	cost := ModelCost{InputPerMTok: 1.25, OutputPerMTok: 10.0}
	if got := cost.Estimate(1_000_000, 0); got != 1.25 {
		t.Errorf("input-only estimate = %v, want 1.25", got)
	}
	if got := cost.Estimate(0, 500_000); got != 5.0 {
		t.Errorf("output-only estimate = %v, want 5.0", got)
	}
	if got := cost.Estimate(0, 0); got != 0 {
		t.Errorf("zero usage estimate = %v, want 0", got)
	}
}

func TestNewCostEstimatorUnknownModel(t *testing.T) {
	estimate := NewCostEstimator(map[string]ModelCost{})
	if got := estimate("mystery-model", 1000, 1000); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
}
