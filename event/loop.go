// Package event provides the single-threaded cooperative loop that the
// control plane runs on. All timer callbacks and all packet-processing
// entries execute serially on one loop goroutine, so no two of them observe
// partial state of another and the table mutations need no locks.
package event

import "sync"

// Loop serializes submitted functions onto a single goroutine.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
	clock Clock
}

// New creates a loop driven by the given clock.
func New(clock Clock) *Loop {
	return &Loop{
		tasks: make(chan func(), 128),
		quit:  make(chan struct{}),
		clock: clock,
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Submit hands fn to the loop. It may be called from any goroutine and
// blocks only if the loop is saturated.
func (l *Loop) Submit(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.quit:
	}
}

// Run drains submitted functions until Stop is called. It is the caller's
// goroutine that becomes the event loop.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Stop terminates Run. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
}
