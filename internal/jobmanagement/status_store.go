package jobmanagement

import (
	"errors"
	"sync"
	"time"

	"voice-order-eval-platform/backend/internal/coreengine/evaluationengine"
)

// Execution lifecycle states. Lowercase on the wire.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrAlreadyActive rejects a start request while the scenario is queued or
// running. The existing entry is left untouched.
var ErrAlreadyActive = errors.New("scenario execution already in progress")

// IsTerminal reports whether a status will never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExecutionStatus is the poller-visible state of one scenario's execution.
type ExecutionStatus struct {
	Status            string `json:"status"`
	CurrentModel      string `json:"current_model,omitempty"`
	CurrentModelIndex int    `json:"current_model_index"`
	TotalModels       int    `json:"total_models"`
	CurrentStep       int    `json:"current_step"`
	TotalSteps        int    `json:"total_steps"`
	StepsProcessed    int    `json:"steps_processed"`
	StepsSkipped      int    `json:"steps_skipped"`
	StepsFailed       int    `json:"steps_failed"`
	ModelsCompleted   int    `json:"models_completed"`
	Queued            bool   `json:"queued,omitempty"`
	QueuePosition     int    `json:"queue_position,omitempty"`
	SingleStep        bool   `json:"is_single_step,omitempty"`
	StepID            string `json:"step_id,omitempty"`
	Error             string `json:"error,omitempty"`
	Message           string `json:"message,omitempty"`
}

type statusEntry struct {
	status ExecutionStatus
	token  *evaluationengine.CancelToken
	// gen changes whenever the entry is created or replaced, so a delayed
	// cleanup never removes a newer execution's entry.
	gen uint64
}

// StatusStore is the shared execution-status registry, keyed by scenario id.
// Entries for finished executions linger for cleanupDelay so pollers can
// observe the terminal state, then disappear.
type StatusStore struct {
	mu           sync.Mutex
	entries      map[string]*statusEntry
	nextGen      uint64
	cleanupDelay time.Duration
}

func NewStatusStore(cleanupDelay time.Duration) *StatusStore {
	return &StatusStore{
		entries:      make(map[string]*statusEntry),
		cleanupDelay: cleanupDelay,
	}
}

// Get returns a copy of the scenario's status entry.
func (s *StatusStore) Get(scenarioID string) (ExecutionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scenarioID]
	if !ok {
		return ExecutionStatus{}, false
	}
	return entry.status, true
}

// TryStart atomically claims the scenario for a new execution. The claim
// succeeds when no entry exists or the existing one is terminal; a pending or
// running entry rejects the start without being mutated. The returned token
// cancels this attempt and no other.
func (s *StatusStore) TryStart(scenarioID string, status ExecutionStatus) (*evaluationengine.CancelToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[scenarioID]; ok && !IsTerminal(entry.status.Status) {
		return nil, ErrAlreadyActive
	}
	status.Status = StatusRunning
	return s.install(scenarioID, status), nil
}

// BeginQueued records a pending entry for a scenario that just entered the
// batch queue. Rejected while the scenario is already queued or running.
func (s *StatusStore) BeginQueued(scenarioID string, status ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[scenarioID]; ok && !IsTerminal(entry.status.Status) {
		return ErrAlreadyActive
	}
	status.Status = StatusPending
	status.Queued = true
	s.install(scenarioID, status)
	return nil
}

// Promote flips a queued scenario to running as the batch worker picks it up.
// The pending entry's snapshot fields are kept; queue markers are cleared.
// A fresh cancellation token is issued for the attempt.
func (s *StatusStore) Promote(scenarioID string) *evaluationengine.CancelToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := ExecutionStatus{}
	if entry, ok := s.entries[scenarioID]; ok {
		status = entry.status
	}
	status.Status = StatusRunning
	status.Queued = false
	status.QueuePosition = 0
	return s.install(scenarioID, status)
}

// install replaces the scenario's entry. Caller holds the lock.
func (s *StatusStore) install(scenarioID string, status ExecutionStatus) *evaluationengine.CancelToken {
	s.nextGen++
	token := evaluationengine.NewCancelToken()
	s.entries[scenarioID] = &statusEntry{status: status, token: token, gen: s.nextGen}
	return token
}

// Update applies fn to the scenario's status under the lock. Missing entries
// are ignored; the execution may already have been cleaned up.
func (s *StatusStore) Update(scenarioID string, fn func(*ExecutionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[scenarioID]; ok {
		fn(&entry.status)
	}
}

// Finish applies the terminal mutation and schedules the entry's removal
// after the cleanup delay.
func (s *StatusStore) Finish(scenarioID string, fn func(*ExecutionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scenarioID]
	if !ok {
		return
	}
	fn(&entry.status)
	gen := entry.gen
	time.AfterFunc(s.cleanupDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.entries[scenarioID]; ok && e.gen == gen && IsTerminal(e.status.Status) {
			delete(s.entries, scenarioID)
		}
	})
}

// Cancel requests cooperative cancellation of a running execution. It reports
// the current status copy and whether a cancellation was actually issued.
func (s *StatusStore) Cancel(scenarioID string) (ExecutionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scenarioID]
	if !ok {
		return ExecutionStatus{}, false
	}
	if entry.status.Status != StatusRunning {
		return entry.status, false
	}
	entry.token.Cancel()
	return entry.status, true
}

// CancelAllRunning cancels every running execution and returns how many were
// signalled.
func (s *StatusStore) CancelAllRunning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if entry.status.Status == StatusRunning {
			entry.token.Cancel()
			count++
		}
	}
	return count
}

// Drop removes the scenario's entry immediately, used when a queued scenario
// leaves the queue before running.
func (s *StatusStore) Drop(scenarioID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scenarioID)
}

// RunningScenario returns the id of the currently running scenario, if any.
func (s *StatusStore) RunningScenario() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.status.Status == StatusRunning {
			return id, true
		}
	}
	return "", false
}

// SetQueuePositions refreshes the queue_position of pending entries after the
// queue is mutated. Scenarios missing from positions keep their entry but are
// no longer queued, which only happens transiently during promotion.
func (s *StatusStore) SetQueuePositions(positions map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.status.Status != StatusPending {
			continue
		}
		if pos, ok := positions[id]; ok {
			entry.status.QueuePosition = pos
		}
	}
}
