package engine

import (
	"sync"

	"github.com/dshills/shardflow/engine/event"
)

// eventQueue is an unbounded FIFO queue with many producers and one consumer.
//
// Producers never block. The consumer blocks in wait until an event arrives or
// the stop channel closes.
type eventQueue struct {
	mu     sync.Mutex
	items  []event.Event
	signal chan struct{} // capacity 1; non-empty means "items may be available"
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]event.Event, 0),
		signal: make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(ev event.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop removes the head without blocking.
func (q *eventQueue) pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

// wait blocks until an event is available or stop is closed.
func (q *eventQueue) wait(stop <-chan struct{}) (event.Event, bool) {
	for {
		if ev, ok := q.pop(); ok {
			return ev, true
		}
		select {
		case <-stop:
			return nil, false
		case <-q.signal:
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// clear drops every queued event and returns how many were dropped.
func (q *eventQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = make([]event.Event, 0)
	return n
}
