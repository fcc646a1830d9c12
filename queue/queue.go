// Package queue is the single-producer single-consumer hand-off between
// the event loop and a blocking receiver. The producer never blocks; the
// consumer does.
package queue

import "time"

// Queue carries packets across the thread boundary in arrival order.
type Queue struct {
	ch chan interface{}
}

// New creates a queue with the given depth.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{ch: make(chan interface{}, depth)}
}

// Push enqueues an item without blocking. Returns false if the queue is
// full and the item was dropped.
func (q *Queue) Push(item interface{}) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Pop dequeues the oldest item, blocking until one arrives.
func (q *Queue) Pop() interface{} {
	return <-q.ch
}

// PopTimeout dequeues with a deadline. A non-positive deadline polls.
// Returns nil, false on timeout.
func (q *Queue) PopTimeout(d time.Duration) (interface{}, bool) {
	if d <= 0 {
		select {
		case item := <-q.ch:
			return item, true
		default:
			return nil, false
		}
	}
	select {
	case item := <-q.ch:
		return item, true
	case <-time.After(d):
		return nil, false
	}
}

// Length returns the number of queued items.
func (q *Queue) Length() int {
	return len(q.ch)
}
