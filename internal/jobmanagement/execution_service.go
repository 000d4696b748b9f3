package jobmanagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voice-order-eval-platform/backend/internal/coreengine/evaluationengine"
	"voice-order-eval-platform/backend/internal/coreengine/metricscalculator"
	"voice-order-eval-platform/backend/internal/datastore"
)

// ErrNoAudioSteps rejects executing a scenario with nothing to replay.
var ErrNoAudioSteps = errors.New("no steps have audio files")

// ScenarioRunner is the execution engine as the job layer sees it.
type ScenarioRunner interface {
	ExecuteScenario(ctx context.Context, scenarioID string, opts evaluationengine.RunOptions) (*evaluationengine.Summary, error)
	ExecuteStep(ctx context.Context, scenarioID, stepID string, opts evaluationengine.RunOptions) (*evaluationengine.Summary, error)
	Models() []string
}

// ScenarioLoader fetches a scenario for validation and reporting.
type ScenarioLoader func(id string) (*datastore.Scenario, error)

// MetricsSink receives execution outcomes and queue depth changes.
// Implemented by the observability metrics; a nil sink disables recording.
type MetricsSink interface {
	RecordExecution(mode, status string, seconds float64)
	RecordExecutionSteps(processed, failed int)
	SetQueueLength(n int)
}

// StartResponse acknowledges an accepted execution request.
type StartResponse struct {
	Message    string          `json:"message"`
	ScenarioID string          `json:"scenario_id"`
	StepID     string          `json:"step_id,omitempty"`
	Models     []string        `json:"models"`
	Status     ExecutionStatus `json:"status"`
}

// CancelResponse reports the outcome of a cancellation request. Requests for
// scenarios that are not running are acknowledged without effect.
type CancelResponse struct {
	Message    string           `json:"message"`
	ScenarioID string           `json:"scenario_id,omitempty"`
	Cancelled  bool             `json:"cancelled"`
	Status     *ExecutionStatus `json:"status,omitempty"`
}

type BatchEntry struct {
	ScenarioID string `json:"scenario_id"`
	Name       string `json:"name"`
}

type BatchSkip struct {
	ScenarioID string `json:"scenario_id"`
	Reason     string `json:"reason"`
}

// BatchAddResult reports a batch enqueue: per-id partial success, never
// all-or-nothing.
type BatchAddResult struct {
	Message     string       `json:"message"`
	Added       []BatchEntry `json:"added"`
	Skipped     []BatchSkip  `json:"skipped"`
	QueueLength int          `json:"queue_length"`
}

type QueueStatusResponse struct {
	Queue              []QueuedScenario `json:"queue"`
	CurrentlyExecuting string           `json:"currently_executing,omitempty"`
	IsBatchRunning     bool             `json:"is_batch_running"`
}

type CancelAllResult struct {
	Message          string `json:"message"`
	CancelledRunning int    `json:"cancelled_running"`
	ClearedQueue     int    `json:"cleared_queue"`
}

type LogsResponse struct {
	ScenarioID string     `json:"scenario_id"`
	Logs       []LogEntry `json:"logs"`
	TotalLogs  int        `json:"total_logs"`
}

// ExecutionService coordinates scenario executions: direct starts, the batch
// queue, cancellation, status polling, execution logs, and comparison
// reports. It owns the single-flight guarantee per scenario.
type ExecutionService struct {
	runner       ScenarioRunner
	loadScenario ScenarioLoader
	status       *StatusStore
	queue        *Queue
	logs         *ExecutionLog
	worker       *Worker
	estimateCost metricscalculator.CostEstimator
	metrics      MetricsSink
}

func NewExecutionService(
	runner ScenarioRunner,
	loadScenario ScenarioLoader,
	status *StatusStore,
	queue *Queue,
	logs *ExecutionLog,
	estimateCost metricscalculator.CostEstimator,
) *ExecutionService {
	s := &ExecutionService{
		runner:       runner,
		loadScenario: loadScenario,
		status:       status,
		queue:        queue,
		logs:         logs,
		estimateCost: estimateCost,
	}
	s.worker = NewWorker(queue, s.runQueued)
	return s
}

// SetMetrics attaches the metrics sink. Call before serving; the service
// never writes to a nil sink.
func (s *ExecutionService) SetMetrics(m MetricsSink) {
	s.metrics = m
}

func (s *ExecutionService) reportQueueLength() {
	if s.metrics != nil {
		s.metrics.SetQueueLength(s.queue.Len())
	}
}

// StartScenario begins a full execution of one scenario in the background.
// Rejections: unknown scenario, no audio-bearing steps, or an execution
// already queued or running for this scenario.
func (s *ExecutionService) StartScenario(scenarioID string) (*StartResponse, error) {
	scenario, err := s.loadScenario(scenarioID)
	if err != nil {
		return nil, err
	}
	audioSteps := countAudioSteps(scenario)
	if audioSteps == 0 {
		return nil, ErrNoAudioSteps
	}

	token, err := s.status.TryStart(scenarioID, s.initialStatus(scenario, audioSteps))
	if err != nil {
		return nil, err
	}

	s.logs.Reset(scenarioID)
	s.logs.Append(scenarioID, evaluationengine.LogInfo,
		fmt.Sprintf("Execution started with %d models", len(s.runner.Models())))

	go s.run(scenarioID, "", token)

	st, _ := s.status.Get(scenarioID)
	return &StartResponse{
		Message:    fmt.Sprintf("Scenario execution started with %d models", len(s.runner.Models())),
		ScenarioID: scenarioID,
		Models:     s.runner.Models(),
		Status:     st,
	}, nil
}

// StartStep re-runs a single step across all models in the background.
func (s *ExecutionService) StartStep(scenarioID, stepID string) (*StartResponse, error) {
	scenario, err := s.loadScenario(scenarioID)
	if err != nil {
		return nil, err
	}
	step := findStep(scenario, stepID)
	if step == nil {
		return nil, evaluationengine.ErrStepNotFound
	}
	if !step.HasVoiceFile() {
		return nil, evaluationengine.ErrStepHasNoAudio
	}

	status := s.initialStatus(scenario, 1)
	status.StepsSkipped = 0
	status.SingleStep = true
	status.StepID = stepID

	token, err := s.status.TryStart(scenarioID, status)
	if err != nil {
		return nil, err
	}

	s.logs.Reset(scenarioID)
	s.logs.Append(scenarioID, evaluationengine.LogInfo,
		fmt.Sprintf("Single step %d execution started", step.StepNumber))

	go s.run(scenarioID, stepID, token)

	st, _ := s.status.Get(scenarioID)
	return &StartResponse{
		Message:    fmt.Sprintf("Single step execution started with %d models", len(s.runner.Models())),
		ScenarioID: scenarioID,
		StepID:     stepID,
		Models:     s.runner.Models(),
		Status:     st,
	}, nil
}

// Status returns the scenario's execution status for polling, plus the
// scenario itself so clients can refresh step results in the same read.
// Absent executions read as a benign pending default.
func (s *ExecutionService) Status(scenarioID string) (ExecutionStatus, *datastore.Scenario, error) {
	scenario, err := s.loadScenario(scenarioID)
	if err != nil {
		return ExecutionStatus{}, nil, err
	}
	st, ok := s.status.Get(scenarioID)
	if !ok {
		st = ExecutionStatus{
			Status:      StatusPending,
			TotalModels: len(s.runner.Models()),
			Message:     "No execution started",
		}
	}
	return st, scenario, nil
}

// Cancel requests cooperative cancellation of a running execution. The
// in-flight model call finishes; execution stops at the next boundary.
func (s *ExecutionService) Cancel(scenarioID string) (*CancelResponse, error) {
	if _, err := s.loadScenario(scenarioID); err != nil {
		return nil, err
	}
	st, issued := s.status.Cancel(scenarioID)
	if !issued {
		resp := &CancelResponse{Message: "Scenario is not currently running"}
		if st.Status != "" {
			resp.Status = &st
		}
		return resp, nil
	}
	s.logs.Append(scenarioID, evaluationengine.LogWarning, "Cancellation requested by user")
	return &CancelResponse{
		Message:    "Cancellation requested. Execution will stop after current step.",
		ScenarioID: scenarioID,
		Cancelled:  true,
	}, nil
}

// BatchAdd enqueues each scenario independently: invalid or busy ids are
// skipped with a reason while the rest are queued, and the batch worker is
// started if it is not already draining.
func (s *ExecutionService) BatchAdd(scenarioIDs []string) *BatchAddResult {
	added := []BatchEntry{}
	skipped := []BatchSkip{}

	for _, id := range scenarioIDs {
		scenario, err := s.loadScenario(id)
		if err != nil {
			skipped = append(skipped, BatchSkip{ScenarioID: id, Reason: "Not found"})
			continue
		}
		audioSteps := countAudioSteps(scenario)
		if audioSteps == 0 {
			skipped = append(skipped, BatchSkip{ScenarioID: id, Reason: "No audio files"})
			continue
		}
		if s.queue.Contains(id) || s.isActive(id) {
			skipped = append(skipped, BatchSkip{ScenarioID: id, Reason: "Already queued or running"})
			continue
		}

		if _, err := s.queue.Enqueue(id, scenario.Name); err != nil {
			skipped = append(skipped, BatchSkip{ScenarioID: id, Reason: "Already queued or running"})
			continue
		}
		if err := s.status.BeginQueued(id, s.initialStatus(scenario, audioSteps)); err != nil {
			// Lost the race against a direct start; back out of the queue.
			_ = s.queue.Remove(id)
			skipped = append(skipped, BatchSkip{ScenarioID: id, Reason: "Already queued or running"})
			continue
		}
		added = append(added, BatchEntry{ScenarioID: id, Name: scenario.Name})
	}

	s.status.SetQueuePositions(s.queue.Positions())
	s.reportQueueLength()
	if len(added) > 0 {
		s.worker.EnsureStarted()
	}

	return &BatchAddResult{
		Message:     fmt.Sprintf("Added %d scenarios to queue, skipped %d", len(added), len(skipped)),
		Added:       added,
		Skipped:     skipped,
		QueueLength: s.queue.Len(),
	}
}

// QueueStatus reports the waiting queue, the currently running scenario, and
// whether the batch worker is draining.
func (s *ExecutionService) QueueStatus() *QueueStatusResponse {
	resp := &QueueStatusResponse{
		Queue:          s.queue.Snapshot(),
		IsBatchRunning: s.worker.Running(),
	}
	if running, ok := s.status.RunningScenario(); ok {
		resp.CurrentlyExecuting = running
	}
	return resp
}

// RemoveFromQueue drops a waiting scenario and its pending status entry.
func (s *ExecutionService) RemoveFromQueue(scenarioID string) (int, error) {
	if err := s.queue.Remove(scenarioID); err != nil {
		return s.queue.Len(), err
	}
	s.status.Drop(scenarioID)
	s.status.SetQueuePositions(s.queue.Positions())
	s.reportQueueLength()
	return s.queue.Len(), nil
}

// ReorderQueue atomically replaces the queue ordering. The new order must be
// an exact permutation of the current contents.
func (s *ExecutionService) ReorderQueue(order []string) ([]QueuedScenario, error) {
	if err := s.queue.Reorder(order); err != nil {
		return nil, err
	}
	s.status.SetQueuePositions(s.queue.Positions())
	return s.queue.Snapshot(), nil
}

// CancelAll cancels the running execution (if any), clears the queue, and
// removes the pending entries of the scenarios that were waiting.
func (s *ExecutionService) CancelAll() *CancelAllResult {
	cancelled := s.status.CancelAllRunning()

	waiting := s.queue.Snapshot()
	cleared := s.queue.Clear()
	for _, item := range waiting {
		s.status.Drop(item.ScenarioID)
	}
	s.reportQueueLength()

	slog.Info("batch execution cancelled", "running", cancelled, "queued", cleared)
	return &CancelAllResult{
		Message:          fmt.Sprintf("Cancelled %d running and %d queued scenarios", cancelled, cleared),
		CancelledRunning: cancelled,
		ClearedQueue:     cleared,
	}
}

// Logs returns the newest execution log lines for a scenario.
func (s *ExecutionService) Logs(scenarioID string, limit int) (*LogsResponse, error) {
	if _, err := s.loadScenario(scenarioID); err != nil {
		return nil, err
	}
	entries, total := s.logs.Tail(scenarioID, limit)
	return &LogsResponse{ScenarioID: scenarioID, Logs: entries, TotalLogs: total}, nil
}

// ClearLogs removes a scenario's execution log.
func (s *ExecutionService) ClearLogs(scenarioID string) error {
	if _, err := s.loadScenario(scenarioID); err != nil {
		return err
	}
	s.logs.Clear(scenarioID)
	return nil
}

// Comparison builds the full scoring report for a scenario.
func (s *ExecutionService) Comparison(scenarioID string) (*metricscalculator.ScenarioComparison, error) {
	scenario, err := s.loadScenario(scenarioID)
	if err != nil {
		return nil, err
	}
	return metricscalculator.BuildScenarioComparison(scenario, s.runner.Models(), s.estimateCost), nil
}

// runQueued executes one dequeued scenario synchronously inside the worker
// loop, promoting its pending status entry to running first.
func (s *ExecutionService) runQueued(item QueuedScenario) {
	token := s.status.Promote(item.ScenarioID)
	s.status.SetQueuePositions(s.queue.Positions())
	s.reportQueueLength()
	s.logs.Reset(item.ScenarioID)
	s.run(item.ScenarioID, "", token)
}

// run drives one execution attempt to its terminal status. Called on its own
// goroutine for direct starts and synchronously by the batch worker.
func (s *ExecutionService) run(scenarioID, stepID string, token *evaluationengine.CancelToken) {
	started := time.Now()
	opts := evaluationengine.RunOptions{
		Token: token,
		Progress: func(p evaluationengine.Progress) {
			s.status.Update(scenarioID, func(st *ExecutionStatus) {
				st.CurrentModel = p.CurrentModel
				st.CurrentModelIndex = p.CurrentModelIndex
				st.CurrentStep = p.CurrentStep
				st.StepsProcessed = p.StepsProcessed
				st.StepsSkipped = p.StepsSkipped
				st.StepsFailed = p.StepsFailed
				if p.CurrentModelIndex > 0 {
					st.ModelsCompleted = p.CurrentModelIndex - 1
				}
			})
		},
		Log: func(level, message string) {
			s.logs.Append(scenarioID, level, message)
		},
	}

	var summary *evaluationengine.Summary
	var err error
	if stepID == "" {
		summary, err = s.runner.ExecuteScenario(context.Background(), scenarioID, opts)
	} else {
		summary, err = s.runner.ExecuteStep(context.Background(), scenarioID, stepID, opts)
	}

	final := StatusCompleted
	switch {
	case err != nil:
		final = StatusFailed
	case summary.Cancelled:
		final = StatusCancelled
	}

	s.status.Finish(scenarioID, func(st *ExecutionStatus) {
		if summary != nil {
			st.StepsProcessed = summary.StepsProcessed
			st.StepsSkipped = summary.StepsSkipped
			st.StepsFailed = summary.StepsFailed
		}
		st.Status = final
		switch final {
		case StatusFailed:
			st.Error = err.Error()
		case StatusCompleted:
			st.ModelsCompleted = st.TotalModels
		}
	})

	if s.metrics != nil {
		mode := "full"
		if stepID != "" {
			mode = "single_step"
		}
		s.metrics.RecordExecution(mode, final, time.Since(started).Seconds())
		if summary != nil {
			s.metrics.RecordExecutionSteps(summary.StepsProcessed, summary.StepsFailed)
		}
	}

	if err != nil {
		s.logs.Append(scenarioID, evaluationengine.LogError, "Execution failed: "+err.Error())
		slog.Error("scenario execution failed", "scenario", scenarioID, "error", err)
	}
}

// initialStatus snapshots the counters a new execution starts from.
func (s *ExecutionService) initialStatus(scenario *datastore.Scenario, audioSteps int) ExecutionStatus {
	models := s.runner.Models()
	st := ExecutionStatus{
		TotalModels:  len(models),
		TotalSteps:   audioSteps,
		StepsSkipped: len(scenario.Steps) - audioSteps,
	}
	if len(models) > 0 {
		st.CurrentModel = models[0]
	}
	return st
}

// isActive reports whether the scenario has a queued or running entry.
func (s *ExecutionService) isActive(scenarioID string) bool {
	st, ok := s.status.Get(scenarioID)
	return ok && !IsTerminal(st.Status)
}

func countAudioSteps(scenario *datastore.Scenario) int {
	n := 0
	for _, step := range scenario.Steps {
		if step.HasVoiceFile() {
			n++
		}
	}
	return n
}

func findStep(scenario *datastore.Scenario, stepID string) *datastore.ScenarioStep {
	for i := range scenario.Steps {
		if scenario.Steps[i].ID == stepID {
			return &scenario.Steps[i]
		}
	}
	return nil
}
