package watcher

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives Runner tests without wall-clock delays. Advance moves time
// forward and fires every armed timer whose deadline passed.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, ch: make(chan time.Time, 1), deadline: c.now.Add(d), armed: true}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var fire []*fakeTimer
	for _, t := range c.timers {
		if t.armed && !t.deadline.After(now) {
			t.armed = false
			fire = append(fire, t)
		}
	}
	c.mu.Unlock()

	for _, t := range fire {
		select {
		case t.ch <- now:
		default:
		}
	}
}

// waitArmed blocks until at least n timers are armed, i.e. the loop under
// test has (re-)armed its schedule.
func (c *fakeClock) waitArmed(tb testing.TB, n int) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		armed := 0
		for _, t := range c.timers {
			if t.armed {
				armed++
			}
		}
		c.mu.Unlock()
		if armed >= n {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("armed timers = %d, want >= %d", armed, n)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeTimer struct {
	clock    *fakeClock
	ch       chan time.Time
	deadline time.Time
	armed    bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.deadline = t.clock.now.Add(d)
	t.armed = true
	return was
}
