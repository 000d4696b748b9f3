package jobmanagement

import (
	"sync"
	"time"
)

// LogEntry is one timestamped line of a scenario's execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ExecutionLog keeps a bounded in-memory log per scenario. Only the newest
// maxLines entries are retained.
type ExecutionLog struct {
	mu       sync.Mutex
	maxLines int
	logs     map[string][]LogEntry
}

func NewExecutionLog(maxLines int) *ExecutionLog {
	if maxLines <= 0 {
		maxLines = 100
	}
	return &ExecutionLog{
		maxLines: maxLines,
		logs:     make(map[string][]LogEntry),
	}
}

// Append adds a line to the scenario's log, evicting the oldest entry once
// the buffer is full.
func (l *ExecutionLog) Append(scenarioID, level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := append(l.logs[scenarioID], LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
	if len(entries) > l.maxLines {
		entries = entries[len(entries)-l.maxLines:]
	}
	l.logs[scenarioID] = entries
}

// Tail returns up to limit newest entries in chronological order, plus the
// total number of retained entries. A non-positive limit returns everything.
func (l *ExecutionLog) Tail(scenarioID string, limit int) ([]LogEntry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.logs[scenarioID]
	total := len(entries)
	if limit > 0 && limit < total {
		entries = entries[total-limit:]
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out, total
}

// Reset empties the scenario's log at the start of a new execution.
func (l *ExecutionLog) Reset(scenarioID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[scenarioID] = nil
}

// Clear removes the scenario's log entirely.
func (l *ExecutionLog) Clear(scenarioID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, scenarioID)
}
