// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source. Retained
// authorizations expire, sweep loops tick, and the request watchdog
// arms timers; all of that takes a Clock so tests can drive time
// deterministically instead of sleeping.
package clock

import "time"

// Clock is the subset of the time package the authority needs.
// Production code injects Real(); tests inject Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine. The returned Timer cancels the pending call with
	// Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C every d.
	// Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled callback created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. It returns false when the
// timer already fired or was already stopped. Stop does not wait for
// a running callback to finish.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C until stopped.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1; a slow consumer
	// drops ticks rather than queueing them.
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }
