package clock

import "sync"

// Queue is the FIFO between the control surface and the clock.
//
// Submissions never block on the clock. A batch is appended contiguously
// under one lock, so it is always applied within a single drain.
type Queue struct {
	mu      sync.Mutex
	pending []Command
	notify  chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Submit appends one command.
func (q *Queue) Submit(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
	q.signal()
}

// SubmitBatch appends cmds in order with no other submission in between.
func (q *Queue) SubmitBatch(cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, cmds...)
	q.mu.Unlock()
	q.signal()
}

// Drain removes and returns everything queued.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Notify fires after submissions. Several submissions may coalesce into one
// signal.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
