package engine

import (
	"context"
	"sync"
)

// TaskType distinguishes the sources of loop work.
type TaskType int

const (
	// TaskIntent is a user intent submitted through Submit.
	TaskIntent TaskType = iota + 1
	// TaskCompletion is the outcome of a dispatched remote operation.
	TaskCompletion
	// TaskStreamEvent is a change notification from the event stream.
	TaskStreamEvent
	// TaskTimer is a scheduled callback (story refresh, persistence, reconcile).
	TaskTimer
	// TaskReconcile applies a full refetch.
	TaskReconcile
	// TaskQuery reads coordinator state or acts as a barrier.
	TaskQuery
)

func (t TaskType) String() string {
	switch t {
	case TaskIntent:
		return "intent"
	case TaskCompletion:
		return "completion"
	case TaskStreamEvent:
		return "stream-event"
	case TaskTimer:
		return "timer"
	case TaskReconcile:
		return "reconcile"
	case TaskQuery:
		return "query"
	}
	return "unknown"
}

// Task is one unit of loop work.
type Task struct {
	Type TaskType

	// Name describes the task in logs (mutation id, event, timer name).
	Name string

	Run func(ctx context.Context) error
}

// taskQueue is a thread-safe FIFO queue of tasks.
//
// The queue is unbounded so remote completions and stream events never block
// their goroutines. The signal channel enables context-aware waiting in the
// Run loop.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front task without blocking.
func (q *taskQueue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	t := q.tasks[0]

	// Clear the slot so the closure can be collected.
	q.tasks[0] = Task{}

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns a channel that signals when tasks may be available. It is
// closed when the queue closes.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further tasks and wakes the waiter.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
