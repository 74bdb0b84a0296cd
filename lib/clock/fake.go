// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called; every timer and ticker whose deadline the
// advance crosses fires, in deadline order.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, so a callback
// must not call Advance itself.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is one pending timer or ticker.
type fakeWaiter struct {
	deadline time.Time

	// callback is set for AfterFunc waiters.
	callback func()

	// channel receives tick times for ticker waiters.
	channel chan time.Time

	// interval is non-zero for tickers: after firing, the waiter is
	// rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run when the clock advances past d from
// now. If d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		fired := &fakeWaiter{fired: true}
		return &Timer{stop: func() bool { return fired.stop(c) }}
	}
	w := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return &Timer{stop: func() bool { return w.stop(c) }}
}

// NewTicker returns a ticker that fires every d fake-time units as
// the clock advances. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	w := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	return &Ticker{
		C:    channel,
		stop: func() { w.stop(c) },
	}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window, in deadline order. Tickers fire
// once per elapsed interval.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		if next.interval > 0 {
			// Ticker: deliver without blocking, drop when full.
			select {
			case next.channel <- next.deadline:
			default:
			}
			next.deadline = next.deadline.Add(next.interval)
			continue
		}
		next.fired = true
		if next.callback != nil {
			// Run outside the lock so the callback can create new
			// timers or stop existing ones.
			c.mu.Unlock()
			next.callback()
			c.mu.Lock()
		}
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// nextDueLocked returns the unstopped waiter with the earliest
// deadline at or before target, or nil.
func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due *fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired || w.deadline.After(target) {
			continue
		}
		if due == nil || w.deadline.Before(due.deadline) {
			due = w
		}
	}
	return due
}

// compactLocked drops fired and stopped waiters.
func (c *FakeClock) compactLocked() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.Slice(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
}

// stop marks the waiter stopped. Returns true when it had not yet
// fired.
func (w *fakeWaiter) stop(c *FakeClock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.fired || w.stopped {
		return false
	}
	w.stopped = true
	return true
}
