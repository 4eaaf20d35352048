package rti

import "sync"

// CallbackQueue runs posted callbacks in FIFO order on a single goroutine.
// Posting never blocks, so the RTI never waits on a slow ambassador.
//
// Thread-safety: Post and Close are safe for concurrent use.
type CallbackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
	done   chan struct{}
}

// NewCallbackQueue starts the delivery goroutine.
func NewCallbackQueue() *CallbackQueue {
	q := &CallbackQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Post enqueues fn. Calls after Close are dropped.
func (q *CallbackQueue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
}

// Close delivers what is already queued and stops the goroutine.
func (q *CallbackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Done is closed once the delivery goroutine has exited.
func (q *CallbackQueue) Done() <-chan struct{} { return q.done }

func (q *CallbackQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()
		fn()
	}
}
