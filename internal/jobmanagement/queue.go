package jobmanagement

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlreadyQueued = errors.New("scenario is already queued")
	ErrNotQueued     = errors.New("scenario is not in the queue")
	// ErrBadReorder rejects a reorder list that is not a permutation of the
	// current queue contents.
	ErrBadReorder = errors.New("reorder list does not match queue contents")
)

// QueuedScenario is one waiting entry of the batch queue.
type QueuedScenario struct {
	ScenarioID   string    `json:"scenario_id"`
	ScenarioName string    `json:"scenario_name"`
	QueuedAt     time.Time `json:"queued_at"`
	Priority     int       `json:"priority"`

	seq uint64
}

// Queue is the ordered set of scenarios awaiting batch execution. Ordering is
// priority first (higher runs earlier), then enqueue order. Auto-assigned
// priorities decrease monotonically, so plain enqueues run first-in
// first-out; an explicit higher priority jumps the line.
type Queue struct {
	mu           sync.Mutex
	items        []*QueuedScenario
	nextSeq      uint64
	nextAutoPrio int
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends the scenario with the next automatic priority.
func (q *Queue) Enqueue(scenarioID, scenarioName string) (QueuedScenario, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prio := q.nextAutoPrio
	q.nextAutoPrio--
	return q.add(scenarioID, scenarioName, prio)
}

// EnqueueWithPriority appends the scenario with an explicit priority.
func (q *Queue) EnqueueWithPriority(scenarioID, scenarioName string, priority int) (QueuedScenario, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.add(scenarioID, scenarioName, priority)
}

func (q *Queue) add(scenarioID, scenarioName string, priority int) (QueuedScenario, error) {
	for _, item := range q.items {
		if item.ScenarioID == scenarioID {
			return QueuedScenario{}, ErrAlreadyQueued
		}
	}
	q.nextSeq++
	item := &QueuedScenario{
		ScenarioID:   scenarioID,
		ScenarioName: scenarioName,
		QueuedAt:     time.Now().UTC(),
		Priority:     priority,
		seq:          q.nextSeq,
	}
	q.items = append(q.items, item)
	q.sortLocked()
	return *item, nil
}

func (q *Queue) sortLocked() {
	sort.Slice(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].seq < q.items[j].seq
	})
}

// Dequeue pops the head of the queue.
func (q *Queue) Dequeue() (QueuedScenario, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedScenario{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return *head, true
}

// Remove deletes the scenario from the queue.
func (q *Queue) Remove(scenarioID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ScenarioID == scenarioID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrNotQueued
}

// Reorder replaces the queue's ordering with the given scenario ids. The list
// must be an exact permutation of the current queue contents; anything else
// fails without mutating the queue.
func (q *Queue) Reorder(order []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(order) != len(q.items) {
		return ErrBadReorder
	}
	byID := make(map[string]*QueuedScenario, len(q.items))
	for _, item := range q.items {
		byID[item.ScenarioID] = item
	}

	reordered := make([]*QueuedScenario, 0, len(order))
	for _, id := range order {
		item, ok := byID[id]
		if !ok {
			return ErrBadReorder
		}
		delete(byID, id)
		reordered = append(reordered, item)
	}

	// Renumber so the requested order survives later enqueues and sorts.
	for i, item := range reordered {
		item.Priority = len(reordered) - 1 - i
		q.nextSeq++
		item.seq = q.nextSeq
	}
	if q.nextAutoPrio > -1 {
		q.nextAutoPrio = -1
	}
	q.items = reordered
	return nil
}

// Clear empties the queue and returns how many entries were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Snapshot returns the queue contents in execution order.
func (q *Queue) Snapshot() []QueuedScenario {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedScenario, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}

// Positions returns each queued scenario's 1-based position.
func (q *Queue) Positions() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	positions := make(map[string]int, len(q.items))
	for i, item := range q.items {
		positions[item.ScenarioID] = i + 1
	}
	return positions
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Contains(scenarioID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ScenarioID == scenarioID {
			return true
		}
	}
	return false
}
