package evaluationengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"voice-order-eval-platform/backend/internal/coreengine/modeladapters"
	"voice-order-eval-platform/backend/internal/coreengine/promptbuilder"
	"voice-order-eval-platform/backend/internal/datastore"
)

// Rejection sentinels the API layer maps to client errors.
var (
	ErrStepNotFound   = errors.New("step not found in scenario")
	ErrStepHasNoAudio = errors.New("step has no voice file")
)

// CancelToken is the cancellation handle owned by one execution attempt.
// Cancel is one-way. The engine observes the token only at step and model
// boundaries, so an in-flight model call always finishes.
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken { return &CancelToken{} }

func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// ScenarioSource loads scenarios and persists per-step model results.
type ScenarioSource interface {
	GetScenario(id string) (*datastore.Scenario, error)
	ClearResults(scenarioID string) error
	SaveStepModelResult(scenarioID, stepID, modelID string, res datastore.ModelExecutionResult) error
}

// AudioSource fetches a step's voice recording and reports its MIME type.
type AudioSource interface {
	GetAudio(ctx context.Context, objectPath string) (data []byte, mimeType string, err error)
}

// PromptSource supplies the global system prompt template and the product
// catalog used to render it.
type PromptSource interface {
	GetSystemPrompt() (string, error)
	ListProducts() ([]*datastore.Product, error)
}

// AdapterSource resolves model ids to their family adapter and clears
// per-scenario conversational state.
type AdapterSource interface {
	AdapterFor(modelID string) (modeladapters.ModelAdapter, error)
	ResetScenario(scenarioID string)
}

// Progress is a snapshot of advancement through one execution attempt.
// CurrentModelIndex is 1-based within the run's model order. CurrentStep is
// the 1-based position within the current model's pass over runnable steps.
// StepsProcessed counts successful (step, model) units cumulatively across
// model passes and only ever grows.
type Progress struct {
	CurrentModel      string
	CurrentModelIndex int
	CurrentStep       int
	StepsProcessed    int
	StepsSkipped      int
	StepsFailed       int
}

// ProgressFunc receives progress snapshots as a run advances.
type ProgressFunc func(Progress)

// Log levels for engine events, matching the execution log's vocabulary.
const (
	LogInfo    = "info"
	LogSuccess = "success"
	LogWarning = "warning"
	LogError   = "error"
)

// EventLogger receives one line per notable engine event; the job layer
// feeds these into the per-scenario execution log.
type EventLogger func(level, message string)

// RunOptions carries the per-attempt collaborators owned by the job layer.
type RunOptions struct {
	Token    *CancelToken
	Progress ProgressFunc
	Log      EventLogger
}

// Summary is the outcome of a finished attempt.
type Summary struct {
	StepsProcessed int
	StepsSkipped   int
	StepsFailed    int
	Cancelled      bool
}

// Engine replays scenarios step by step against the configured model list.
// Models run strictly one after another; a model's step sequence is never
// interleaved with another's.
type Engine struct {
	scenarios ScenarioSource
	audio     AudioSource
	prompts   PromptSource
	adapters  AdapterSource
	models    []string
}

func NewEngine(scenarios ScenarioSource, audio AudioSource, prompts PromptSource, adapters AdapterSource, executeModels []string) *Engine {
	return &Engine{
		scenarios: scenarios,
		audio:     audio,
		prompts:   prompts,
		adapters:  adapters,
		models:    executeModels,
	}
}

// Models returns the configured execution order.
func (e *Engine) Models() []string { return e.models }

// ExecuteScenario replays every audio-bearing step of the scenario against
// each configured model. Previous results are cleared first. Per-step model
// errors are recorded on the step's result and counted in StepsFailed; only
// an unloadable scenario, an unbuildable prompt, or an unavailable adapter
// aborts the run with an error.
func (e *Engine) ExecuteScenario(ctx context.Context, scenarioID string, opts RunOptions) (*Summary, error) {
	return e.run(ctx, scenarioID, "", opts)
}

// ExecuteStep re-runs exactly one step against every configured model. Other
// steps and their results are untouched. Each model's conversation is seeded
// from its own predicted cart on the nearest earlier step, when present.
func (e *Engine) ExecuteStep(ctx context.Context, scenarioID, stepID string, opts RunOptions) (*Summary, error) {
	if stepID == "" {
		return nil, ErrStepNotFound
	}
	return e.run(ctx, scenarioID, stepID, opts)
}

func (e *Engine) run(ctx context.Context, scenarioID, onlyStepID string, opts RunOptions) (*Summary, error) {
	scenario, err := e.scenarios.GetScenario(scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario %s: %w", scenarioID, err)
	}

	run := &runState{opts: opts}

	if onlyStepID == "" {
		if err := e.scenarios.ClearResults(scenario.ID); err != nil {
			return nil, fmt.Errorf("failed to clear previous results for scenario %s: %w", scenario.ID, err)
		}
		run.logf(LogInfo, "Cleared previous execution results")
	}

	template, products, err := e.promptInputs(scenario)
	if err != nil {
		return nil, err
	}

	allSteps := sortedSteps(scenario.Steps)
	runnable, err := selectRunnable(allSteps, onlyStepID)
	if err != nil {
		return nil, err
	}
	if onlyStepID == "" {
		run.progress.StepsSkipped = len(allSteps) - len(runnable)
	}

	// Resolve every adapter up front so a missing credential fails the run
	// before any model call is spent.
	adapters := make([]modeladapters.ModelAdapter, len(e.models))
	for i, modelID := range e.models {
		adapter, err := e.adapters.AdapterFor(modelID)
		if err != nil {
			return nil, fmt.Errorf("no adapter available for model %s: %w", modelID, err)
		}
		adapters[i] = adapter
	}

	// Conversation state from any earlier attempt must not leak into this one.
	e.adapters.ResetScenario(scenario.ID)

	run.report()
	run.logf(LogInfo, "Starting execution of scenario %q: %d models, %d runnable steps", scenario.Name, len(e.models), len(runnable))
	slog.Info("scenario execution started",
		"scenario", scenario.ID, "models", len(e.models), "steps", len(runnable), "single_step", onlyStepID != "")

	for mi, modelID := range e.models {
		if aborted(ctx, opts.Token) {
			return run.finishCancelled(scenario.ID)
		}

		run.progress.CurrentModel = modelID
		run.progress.CurrentModelIndex = mi + 1
		run.progress.CurrentStep = 0
		run.report()
		run.logf(LogInfo, "[%s] Starting model pass %d/%d", modelID, mi+1, len(e.models))

		currentCart := seedCart(allSteps, runnable, modelID, onlyStepID)

		for si, step := range runnable {
			if aborted(ctx, opts.Token) {
				return run.finishCancelled(scenario.ID)
			}

			run.progress.CurrentStep = si + 1
			run.report()
			run.logf(LogInfo, "[%s] Processing step %d", modelID, step.StepNumber)

			result, ok := e.executeStepForModel(ctx, adapters[mi], scenario, step, modelID, template, products, currentCart, run)
			if !ok {
				run.progress.StepsFailed++
				run.report()
				continue
			}

			run.progress.StepsProcessed++
			run.report()
			currentCart = result.PredictedCart
			run.logf(LogSuccess, "[%s] Step %d completed: %d items in cart", modelID, step.StepNumber, len(currentCart))
		}

		run.logf(LogSuccess, "[%s] Completed all steps", modelID)
	}

	slog.Info("scenario execution finished",
		"scenario", scenario.ID,
		"steps_processed", run.progress.StepsProcessed,
		"steps_failed", run.progress.StepsFailed,
		"steps_skipped", run.progress.StepsSkipped)
	return run.summary(false), nil
}

// executeStepForModel performs one model call and persists its result. It
// reports ok=false when the step failed and the running cart must not
// advance; an error result is still persisted in that case.
func (e *Engine) executeStepForModel(
	ctx context.Context,
	adapter modeladapters.ModelAdapter,
	scenario *datastore.Scenario,
	step datastore.ScenarioStep,
	modelID, template string,
	products []*datastore.Product,
	currentCart []datastore.CartItem,
	run *runState,
) (datastore.ModelExecutionResult, bool) {
	audioData, audioMIME, err := e.audio.GetAudio(ctx, step.VoiceFilePath.String)
	if err != nil {
		result := datastore.ModelExecutionResult{
			Error:      fmt.Sprintf("failed to fetch audio: %v", err),
			ExecutedAt: time.Now().UTC(),
		}
		e.saveResult(scenario.ID, step.ID, modelID, result, run)
		run.logf(LogError, "[%s] Step %d failed: %v", modelID, step.StepNumber, err)
		return result, false
	}

	systemPrompt := promptbuilder.BuildSystemPrompt(template, products, currentCart)

	start := time.Now()
	resp, err := adapter.SendStep(ctx, modeladapters.StepRequest{
		ScenarioID:   scenario.ID,
		ModelID:      modelID,
		StepNumber:   step.StepNumber,
		AudioData:    audioData,
		AudioMIME:    audioMIME,
		Transcript:   step.VoiceText.String,
		SystemPrompt: systemPrompt,
		CurrentCart:  currentCart,
	})
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		result := datastore.ModelExecutionResult{
			Error:      err.Error(),
			LatencyMs:  latencyMs,
			ExecutedAt: time.Now().UTC(),
		}
		e.saveResult(scenario.ID, step.ID, modelID, result, run)
		run.logf(LogError, "[%s] Step %d failed: %v", modelID, step.StepNumber, err)
		slog.Warn("model step failed",
			"scenario", scenario.ID, "model", modelID, "step", step.StepNumber, "error", err)
		return result, false
	}

	result := datastore.ModelExecutionResult{
		Transcription: resp.Transcription,
		AIResponse:    resp.AIResponse,
		RawResponse:   resp.RawResponse,
		PredictedCart: resp.Cart,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		LatencyMs:     latencyMs,
		ExecutedAt:    time.Now().UTC(),
	}
	if !e.saveResult(scenario.ID, step.ID, modelID, result, run) {
		return result, false
	}
	return result, true
}

func (e *Engine) saveResult(scenarioID, stepID, modelID string, result datastore.ModelExecutionResult, run *runState) bool {
	if err := e.scenarios.SaveStepModelResult(scenarioID, stepID, modelID, result); err != nil {
		slog.Error("failed to save step result",
			"scenario", scenarioID, "step", stepID, "model", modelID, "error", err)
		run.logf(LogError, "[%s] Failed to save result for step %s: %v", modelID, stepID, err)
		return false
	}
	return true
}

// promptInputs returns the active prompt template (scenario override, else
// the stored global prompt) and the product catalog.
func (e *Engine) promptInputs(scenario *datastore.Scenario) (string, []*datastore.Product, error) {
	template := scenario.SystemPrompt.String
	if !scenario.SystemPrompt.Valid || strings.TrimSpace(template) == "" {
		var err error
		template, err = e.prompts.GetSystemPrompt()
		if err != nil {
			return "", nil, fmt.Errorf("failed to load system prompt: %w", err)
		}
	}
	products, err := e.prompts.ListProducts()
	if err != nil {
		return "", nil, fmt.Errorf("failed to load product catalog: %w", err)
	}
	return template, products, nil
}

func sortedSteps(steps []datastore.ScenarioStep) []datastore.ScenarioStep {
	sorted := make([]datastore.ScenarioStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StepNumber < sorted[j].StepNumber })
	return sorted
}

// selectRunnable picks the steps a run will execute: every audio-bearing
// step, or just the named one for a single-step re-run.
func selectRunnable(allSteps []datastore.ScenarioStep, onlyStepID string) ([]datastore.ScenarioStep, error) {
	if onlyStepID != "" {
		for _, step := range allSteps {
			if step.ID != onlyStepID {
				continue
			}
			if !step.HasVoiceFile() {
				return nil, ErrStepHasNoAudio
			}
			return []datastore.ScenarioStep{step}, nil
		}
		return nil, ErrStepNotFound
	}

	runnable := make([]datastore.ScenarioStep, 0, len(allSteps))
	for _, step := range allSteps {
		if step.HasVoiceFile() {
			runnable = append(runnable, step)
		}
	}
	return runnable, nil
}

// seedCart returns the cart a model's conversation starts from. Full runs
// start empty. A single-step re-run resumes from the model's own predicted
// cart on the nearest earlier step, when that step holds a result for it.
func seedCart(allSteps, runnable []datastore.ScenarioStep, modelID, onlyStepID string) []datastore.CartItem {
	if onlyStepID == "" || len(runnable) == 0 {
		return nil
	}
	target := runnable[0].StepNumber
	for i := len(allSteps) - 1; i >= 0; i-- {
		if allSteps[i].StepNumber >= target {
			continue
		}
		if res, ok := allSteps[i].ModelResults[modelID]; ok {
			return res.PredictedCart
		}
		return nil
	}
	return nil
}

func aborted(ctx context.Context, token *CancelToken) bool {
	return token.Cancelled() || ctx.Err() != nil
}

type runState struct {
	opts     RunOptions
	progress Progress
}

func (r *runState) report() {
	if r.opts.Progress != nil {
		r.opts.Progress(r.progress)
	}
}

func (r *runState) logf(level, format string, args ...any) {
	if r.opts.Log != nil {
		r.opts.Log(level, fmt.Sprintf(format, args...))
	}
}

func (r *runState) summary(cancelled bool) *Summary {
	return &Summary{
		StepsProcessed: r.progress.StepsProcessed,
		StepsSkipped:   r.progress.StepsSkipped,
		StepsFailed:    r.progress.StepsFailed,
		Cancelled:      cancelled,
	}
}

func (r *runState) finishCancelled(scenarioID string) (*Summary, error) {
	r.logf(LogWarning, "Execution cancelled")
	slog.Info("scenario execution cancelled",
		"scenario", scenarioID, "steps_processed", r.progress.StepsProcessed)
	return r.summary(true), nil
}
