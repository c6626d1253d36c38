package gateway

import (
	"log/slog"
	"sync"
)

// eventQueue runs callbacks one at a time in push order. It never blocks the
// pusher, so a callback may issue requests whose results arrive on the read loop.
// Work the gateway needs before it can answer such a request must go on a
// different queue.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	logger *slog.Logger
}

func newEventQueue(logger *slog.Logger) *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1), logger: logger}
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.signal()
}

// close stops accepting callbacks; run returns once the queued ones have run.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range items {
			q.invoke(fn)
		}

		if len(items) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}

func (q *eventQueue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Panic in connection event handler", "panic", r)
		}
	}()
	fn()
}
