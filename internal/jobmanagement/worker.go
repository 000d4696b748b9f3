package jobmanagement

import (
	"log/slog"
	"sync"
)

// Worker drains the batch queue in a single goroutine, executing one scenario
// fully before starting the next. The loop exits when the queue runs dry and
// is relaunched by the next enqueue.
type Worker struct {
	queue   *Queue
	execute func(item QueuedScenario)

	mu      sync.Mutex
	running bool
}

func NewWorker(queue *Queue, execute func(item QueuedScenario)) *Worker {
	return &Worker{queue: queue, execute: execute}
}

// Running reports whether a drain loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// EnsureStarted launches the drain loop unless one is already running.
func (w *Worker) EnsureStarted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.drain()
}

func (w *Worker) drain() {
	slog.Info("batch execution started")
	for {
		item, ok := w.queue.Dequeue()
		if !ok {
			// An enqueue may have slipped in after the empty dequeue; only
			// stop once the queue is confirmed empty under the lock.
			w.mu.Lock()
			if w.queue.Len() == 0 {
				w.running = false
				w.mu.Unlock()
				slog.Info("batch execution queue completed")
				return
			}
			w.mu.Unlock()
			continue
		}
		slog.Info("processing queued scenario", "scenario", item.ScenarioID, "name", item.ScenarioName)
		w.execute(item)
	}
}
