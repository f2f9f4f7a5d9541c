package engine

import "sync"

// triggerQueue is the engine's single intake point: a FIFO of pass
// triggers, unbounded, with a one-slot signal channel so the Run loop can
// wait on it next to ctx.Done().
//
// A trigger equal in Source and Path to one already waiting is dropped.
// The waiting one will run a pass over the same documents, and a pass
// reads fresh state when it runs, so nothing is lost.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{}
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		triggers: make([]Trigger, 0, 8),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends t. Safe from any goroutine. Returns false once the queue
// is closed; a trigger coalesced into a waiting one still returns true.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	for _, waiting := range q.triggers {
		if waiting.Source == t.Source && waiting.Path == t.Path {
			return true
		}
	}
	q.triggers = append(q.triggers, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front trigger without blocking.
func (q *triggerQueue) TryDequeue() (Trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return Trigger{}, false
	}
	t := q.triggers[0]
	if len(q.triggers) == 1 {
		q.triggers = q.triggers[:0]
	} else {
		q.triggers = q.triggers[1:]
	}
	return t, true
}

// Wait returns a channel that fires when triggers may be available. It is
// closed when the queue is closed.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting triggers.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Closed reports whether Close was called.
func (q *triggerQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops intake and wakes the waiter. Idempotent.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
