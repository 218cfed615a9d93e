package ccnet

import "sync"

// requestQueue is a mutex-guarded FIFO of pending work. Each entry is
// a closure that already captures its own typed result channel, so
// the queue itself never stores an untyped result handle — it just
// runs closures in order from the operate goroutine.
type requestQueue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
}

// push enqueues fn to run on the operate goroutine. If the queue has
// been closed (controller stopping), fn is neither queued nor run and
// push returns false.
func (q *requestQueue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	return true
}

// popOne removes and returns the oldest pending closure, or nil if
// the queue is empty.
func (q *requestQueue) popOne() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	fn := q.pending[0]
	q.pending = q.pending[1:]
	return fn
}

// closeAndDrain marks the queue closed (no further pushes accepted)
// and returns every closure still pending, so the caller can resolve
// them with a cancellation error instead of silently dropping them.
func (q *requestQueue) closeAndDrain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	drained := q.pending
	q.pending = nil
	return drained
}
