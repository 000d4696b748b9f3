package evaluationengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voice-order-eval-platform/backend/internal/coreengine/modeladapters"
	"voice-order-eval-platform/backend/internal/datastore"
)

type savedResult struct {
	StepID  string
	ModelID string
	Result  datastore.ModelExecutionResult
}

type fakeScenarioSource struct {
	scenario    *datastore.Scenario
	loadErr     error
	clearErr    error
	saveErr     error
	clearCalls  int
	saved       []savedResult
	failSaveFor string
}

func (f *fakeScenarioSource) GetScenario(id string) (*datastore.Scenario, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.scenario, nil
}

func (f *fakeScenarioSource) ClearResults(scenarioID string) error {
	f.clearCalls++
	return f.clearErr
}

func (f *fakeScenarioSource) SaveStepModelResult(scenarioID, stepID, modelID string, res datastore.ModelExecutionResult) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.failSaveFor != "" && stepID == f.failSaveFor {
		return errors.New("write conflict")
	}
	f.saved = append(f.saved, savedResult{StepID: stepID, ModelID: modelID, Result: res})
	return nil
}

type fakeAudioSource struct {
	err     error
	failFor string
}

func (f *fakeAudioSource) GetAudio(ctx context.Context, objectPath string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if f.failFor != "" && objectPath == f.failFor {
		return nil, "", errors.New("object missing")
	}
	return []byte("audio:" + objectPath), "audio/mpeg", nil
}

type fakePromptSource struct {
	prompt      string
	promptCalls int
}

func (f *fakePromptSource) GetSystemPrompt() (string, error) {
	f.promptCalls++
	if f.prompt == "" {
		return "global prompt", nil
	}
	return f.prompt, nil
}

func (f *fakePromptSource) ListProducts() ([]*datastore.Product, error) {
	return nil, nil
}

// fakeAdapter records every request and answers with a scripted cart per
// step number, or an error for step numbers listed in failSteps.
type fakeAdapter struct {
	name      string
	requests  []modeladapters.StepRequest
	failSteps map[int]bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) SendStep(ctx context.Context, req modeladapters.StepRequest) (*modeladapters.StepResponse, error) {
	f.requests = append(f.requests, req)
	if f.failSteps[req.StepNumber] {
		return nil, fmt.Errorf("model call failed on step %d", req.StepNumber)
	}
	cart := append([]datastore.CartItem{}, req.CurrentCart...)
	cart = append(cart, datastore.CartItem{
		ProductID: fmt.Sprintf("%s-p%d", f.name, req.StepNumber),
		Quantity:  req.StepNumber,
		Unit:      "KOYTA",
	})
	return &modeladapters.StepResponse{
		Transcription: fmt.Sprintf("transcript %d", req.StepNumber),
		AIResponse:    "ok",
		Cart:          cart,
		InputTokens:   10,
		OutputTokens:  5,
	}, nil
}

func (f *fakeAdapter) ResetSession(scenarioID string) {}

type fakeAdapterSource struct {
	adapters   map[string]*fakeAdapter
	missing    string
	resetCalls int
}

func (f *fakeAdapterSource) AdapterFor(modelID string) (modeladapters.ModelAdapter, error) {
	if modelID == f.missing {
		return nil, fmt.Errorf("model %s has no configured credentials", modelID)
	}
	return f.adapters[modelID], nil
}

func (f *fakeAdapterSource) ResetScenario(scenarioID string) { f.resetCalls++ }

func audioStep(id string, number int, path string) datastore.ScenarioStep {
	return datastore.ScenarioStep{
		ID:            id,
		StepNumber:    number,
		VoiceFilePath: sql.NullString{String: path, Valid: true},
		VoiceText:     sql.NullString{String: fmt.Sprintf("say step %d", number), Valid: true},
	}
}

func testScenario() *datastore.Scenario {
	return &datastore.Scenario{
		ID:   "scn-1",
		Name: "Lunch order",
		Steps: []datastore.ScenarioStep{
			audioStep("step-2", 2, "voice/2.mp3"),
			audioStep("step-1", 1, "voice/1.mp3"),
			{ID: "step-3", StepNumber: 3},
		},
	}
}

func newTestEngine(scenarios *fakeScenarioSource, audio *fakeAudioSource, prompts *fakePromptSource, adapters *fakeAdapterSource, models []string) *Engine {
	return NewEngine(scenarios, audio, prompts, adapters, models)
}

func defaultAdapters(models ...string) *fakeAdapterSource {
	src := &fakeAdapterSource{adapters: map[string]*fakeAdapter{}}
	for _, m := range models {
		src.adapters[m] = &fakeAdapter{name: m, failSteps: map[int]bool{}}
	}
	return src
}

func TestExecuteScenarioRunsModelsSequentially(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a", "model-b")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	summary, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if summary.StepsProcessed != 4 {
		t.Errorf("StepsProcessed = %d, want 4", summary.StepsProcessed)
	}
	if summary.StepsSkipped != 1 {
		t.Errorf("StepsSkipped = %d, want 1", summary.StepsSkipped)
	}
	if summary.StepsFailed != 0 {
		t.Errorf("StepsFailed = %d, want 0", summary.StepsFailed)
	}
	if summary.Cancelled {
		t.Error("summary reports cancelled for a completed run")
	}
	if scenarios.clearCalls != 1 {
		t.Errorf("ClearResults called %d times, want 1", scenarios.clearCalls)
	}
	if adapters.resetCalls != 1 {
		t.Errorf("ResetScenario called %d times, want 1", adapters.resetCalls)
	}

	// One full pass per model, never interleaved, steps in numeric order.
	wantOrder := []savedResult{
		{StepID: "step-1", ModelID: "model-a"},
		{StepID: "step-2", ModelID: "model-a"},
		{StepID: "step-1", ModelID: "model-b"},
		{StepID: "step-2", ModelID: "model-b"},
	}
	if len(scenarios.saved) != len(wantOrder) {
		t.Fatalf("saved %d results, want %d", len(scenarios.saved), len(wantOrder))
	}
	for i, want := range wantOrder {
		got := scenarios.saved[i]
		if got.StepID != want.StepID || got.ModelID != want.ModelID {
			t.Errorf("save[%d] = (%s, %s), want (%s, %s)", i, got.StepID, got.ModelID, want.StepID, want.ModelID)
		}
	}
}

func TestExecuteScenarioCartFollowsModelPredictions(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a", "model-b")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	if _, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{}); err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	for _, modelID := range []string{"model-a", "model-b"} {
		requests := adapters.adapters[modelID].requests
		if len(requests) != 2 {
			t.Fatalf("%s received %d requests, want 2", modelID, len(requests))
		}
		if len(requests[0].CurrentCart) != 0 {
			t.Errorf("%s step 1 cart has %d items, want empty", modelID, len(requests[0].CurrentCart))
		}
		// Step 2 starts from the cart this model predicted on step 1.
		cart := requests[1].CurrentCart
		if len(cart) != 1 || cart[0].ProductID != modelID+"-p1" {
			t.Errorf("%s step 2 cart = %+v, want the model's own step 1 prediction", modelID, cart)
		}
	}
}

func TestExecuteScenarioStepErrorContinues(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a")
	adapters.adapters["model-a"].failSteps[1] = true
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a"})

	summary, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if summary.StepsProcessed != 1 {
		t.Errorf("StepsProcessed = %d, want 1", summary.StepsProcessed)
	}
	if summary.StepsFailed != 1 {
		t.Errorf("StepsFailed = %d, want 1", summary.StepsFailed)
	}
	if len(scenarios.saved) != 2 {
		t.Fatalf("saved %d results, want 2 (error result plus success)", len(scenarios.saved))
	}

	errResult := scenarios.saved[0]
	if errResult.StepID != "step-1" || errResult.Result.Error == "" {
		t.Errorf("first save = %+v, want step-1 with error recorded", errResult)
	}
	if errResult.Result.ExecutedAt.IsZero() {
		t.Error("error result has no ExecutedAt timestamp")
	}

	// A failed step must not advance the cart.
	requests := adapters.adapters["model-a"].requests
	if len(requests[1].CurrentCart) != 0 {
		t.Errorf("step 2 cart has %d items after step 1 failure, want empty", len(requests[1].CurrentCart))
	}
}

func TestExecuteScenarioAudioFetchErrorFailsStep(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a")
	audio := &fakeAudioSource{failFor: "voice/1.mp3"}
	engine := newTestEngine(scenarios, audio, &fakePromptSource{}, adapters, []string{"model-a"})

	summary, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if summary.StepsFailed != 1 || summary.StepsProcessed != 1 {
		t.Errorf("summary = %+v, want 1 failed, 1 processed", summary)
	}
	if got := scenarios.saved[0].Result.Error; !strings.Contains(got, "failed to fetch audio") {
		t.Errorf("error result = %q, want audio fetch failure", got)
	}
	// The model is never called for a step whose audio cannot be fetched.
	if got := len(adapters.adapters["model-a"].requests); got != 1 {
		t.Errorf("adapter received %d requests, want 1", got)
	}
}

func TestExecuteScenarioSaveFailureCountsAsFailed(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario(), failSaveFor: "step-1"}
	adapters := defaultAdapters("model-a")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a"})

	summary, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if summary.StepsFailed != 1 || summary.StepsProcessed != 1 {
		t.Errorf("summary = %+v, want 1 failed, 1 processed", summary)
	}
	// An unsaved result must not advance the cart either.
	requests := adapters.adapters["model-a"].requests
	if len(requests[1].CurrentCart) != 0 {
		t.Errorf("step 2 cart has %d items after unsaved step 1, want empty", len(requests[1].CurrentCart))
	}
}

func TestExecuteScenarioCancellationStopsAtBoundary(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a", "model-b")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	token := NewCancelToken()
	opts := RunOptions{
		Token: token,
		Progress: func(p Progress) {
			if p.StepsProcessed == 1 {
				token.Cancel()
			}
		},
	}

	summary, err := engine.ExecuteScenario(context.Background(), "scn-1", opts)
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if !summary.Cancelled {
		t.Fatal("summary.Cancelled = false after token cancel")
	}
	if summary.StepsProcessed != 1 {
		t.Errorf("StepsProcessed = %d, want 1 (stop before the next step)", summary.StepsProcessed)
	}
	if len(scenarios.saved) != 1 {
		t.Errorf("saved %d results after cancellation, want 1", len(scenarios.saved))
	}
}

func TestExecuteScenarioContextCancellation(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := engine.ExecuteScenario(ctx, "scn-1", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}
	if !summary.Cancelled || summary.StepsProcessed != 0 {
		t.Errorf("summary = %+v, want cancelled with no steps processed", summary)
	}
}

func TestExecuteScenarioLoadErrorIsFatal(t *testing.T) {
	scenarios := &fakeScenarioSource{loadErr: datastore.ErrNotFound}
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, defaultAdapters(), nil)

	if _, err := engine.ExecuteScenario(context.Background(), "missing", RunOptions{}); !errors.Is(err, datastore.ErrNotFound) {
		t.Errorf("error = %v, want wrapped ErrNotFound", err)
	}
}

func TestExecuteScenarioAdapterResolutionIsFatal(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a")
	adapters.missing = "model-b"
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	_, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "model-b") {
		t.Fatalf("error = %v, want adapter resolution failure naming model-b", err)
	}
	// No model may run when any adapter in the list is unavailable.
	if len(scenarios.saved) != 0 {
		t.Errorf("saved %d results, want 0", len(scenarios.saved))
	}
	if got := len(adapters.adapters["model-a"].requests); got != 0 {
		t.Errorf("model-a received %d requests, want 0", got)
	}
}

func TestExecuteScenarioUsesScenarioPromptOverride(t *testing.T) {
	scenario := testScenario()
	scenario.SystemPrompt = sql.NullString{String: "scenario specific prompt", Valid: true}
	scenarios := &fakeScenarioSource{scenario: scenario}
	prompts := &fakePromptSource{}
	adapters := defaultAdapters("model-a")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, prompts, adapters, []string{"model-a"})

	if _, err := engine.ExecuteScenario(context.Background(), "scn-1", RunOptions{}); err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if prompts.promptCalls != 0 {
		t.Errorf("global prompt loaded %d times despite scenario override", prompts.promptCalls)
	}
	for _, req := range adapters.adapters["model-a"].requests {
		if req.SystemPrompt != "scenario specific prompt" {
			t.Errorf("SystemPrompt = %q, want the scenario override", req.SystemPrompt)
		}
	}
}

func TestExecuteScenarioReportsProgress(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a", "model-b")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	var snapshots []Progress
	opts := RunOptions{Progress: func(p Progress) { snapshots = append(snapshots, p) }}

	if _, err := engine.ExecuteScenario(context.Background(), "scn-1", opts); err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	if len(snapshots) == 0 {
		t.Fatal("no progress reported")
	}
	last := snapshots[len(snapshots)-1]
	if last.StepsProcessed != 4 || last.StepsSkipped != 1 {
		t.Errorf("final progress = %+v, want 4 processed, 1 skipped", last)
	}
	if last.CurrentModel != "model-b" || last.CurrentModelIndex != 2 {
		t.Errorf("final progress model = %s/%d, want model-b/2", last.CurrentModel, last.CurrentModelIndex)
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].StepsProcessed < snapshots[i-1].StepsProcessed {
			t.Fatalf("StepsProcessed decreased between snapshots %d and %d", i-1, i)
		}
	}
}

func TestExecuteStepRunsSingleStep(t *testing.T) {
	scenario := testScenario()
	// Model-a already holds a result on step 1 from a previous run.
	scenario.Steps[1].ModelResults = map[string]datastore.ModelExecutionResult{
		"model-a": {PredictedCart: []datastore.CartItem{{ProductID: "prior", Quantity: 2, Unit: "KOYTA"}}},
	}
	scenarios := &fakeScenarioSource{scenario: scenario}
	adapters := defaultAdapters("model-a", "model-b")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a", "model-b"})

	summary, err := engine.ExecuteStep(context.Background(), "scn-1", "step-2", RunOptions{})
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}

	if summary.StepsProcessed != 2 || summary.StepsSkipped != 0 || summary.StepsFailed != 0 {
		t.Errorf("summary = %+v, want 2 processed, 0 skipped, 0 failed", summary)
	}
	if scenarios.clearCalls != 0 {
		t.Errorf("ClearResults called %d times on a single-step run, want 0", scenarios.clearCalls)
	}
	for _, got := range scenarios.saved {
		if got.StepID != "step-2" {
			t.Errorf("saved result for %s, want step-2 only", got.StepID)
		}
	}

	// Model-a resumes from its own prior cart; model-b has none and starts empty.
	cartA := adapters.adapters["model-a"].requests[0].CurrentCart
	if len(cartA) != 1 || cartA[0].ProductID != "prior" {
		t.Errorf("model-a seed cart = %+v, want the prior step prediction", cartA)
	}
	if got := len(adapters.adapters["model-b"].requests[0].CurrentCart); got != 0 {
		t.Errorf("model-b seed cart has %d items, want empty", got)
	}
}

func TestExecuteStepValidation(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, defaultAdapters("model-a"), []string{"model-a"})

	if _, err := engine.ExecuteStep(context.Background(), "scn-1", "step-9", RunOptions{}); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("unknown step error = %v, want ErrStepNotFound", err)
	}
	if _, err := engine.ExecuteStep(context.Background(), "scn-1", "step-3", RunOptions{}); !errors.Is(err, ErrStepHasNoAudio) {
		t.Errorf("audioless step error = %v, want ErrStepHasNoAudio", err)
	}
	if _, err := engine.ExecuteStep(context.Background(), "scn-1", "", RunOptions{}); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("empty step id error = %v, want ErrStepNotFound", err)
	}
}

func TestExecuteScenarioEmitsLog(t *testing.T) {
	scenarios := &fakeScenarioSource{scenario: testScenario()}
	adapters := defaultAdapters("model-a")
	engine := newTestEngine(scenarios, &fakeAudioSource{}, &fakePromptSource{}, adapters, []string{"model-a"})

	var lines []string
	levels := map[string]int{}
	opts := RunOptions{Log: func(level, message string) {
		lines = append(lines, message)
		levels[level]++
	}}
	if _, err := engine.ExecuteScenario(context.Background(), "scn-1", opts); err != nil {
		t.Fatalf("ExecuteScenario failed: %v", err)
	}

	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"Cleared previous execution results",
		"Starting execution of scenario",
		"[model-a] Processing step 1",
		"[model-a] Completed all steps",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("log output missing %q\nlog:\n%s", want, joined)
		}
	}
	if levels[LogSuccess] == 0 || levels[LogInfo] == 0 {
		t.Errorf("log levels = %v, want info and success lines", levels)
	}
}
