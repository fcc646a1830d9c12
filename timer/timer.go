// Package timer provides recurring callbacks posted onto the event loop.
package timer

import (
	"time"

	"github.com/sciyoshi/gini/event"
)

// Timer fires a callback on the event loop every interval. The callback
// returns whether to reschedule; returning false retires the timer.
type Timer struct {
	timer    *time.Timer
	interval time.Duration
	loop     *event.Loop
	running  bool
}

// Every creates a timer that posts fn onto the loop every interval.
func Every(loop *event.Loop, interval time.Duration, fn func() bool) *Timer {
	t := &Timer{
		interval: interval,
		loop:     loop,
		running:  true,
	}
	t.timer = time.AfterFunc(interval, t.preflight(fn))
	return t
}

// preflight takes care of hopping onto the loop and rescheduling before
// calling the user's function.
func (t *Timer) preflight(fn func() bool) func() {
	return func() {
		t.loop.Submit(func() {
			if !t.running {
				return
			}
			if fn() {
				t.timer.Reset(t.interval)
				return
			}
			t.running = false
		})
	}
}

// Stop cancels the timer. Must be called on the loop.
func (t *Timer) Stop() {
	t.running = false
	t.timer.Stop()
}

// Running returns true if the timer will fire again.
func (t *Timer) Running() bool {
	return t.running
}
