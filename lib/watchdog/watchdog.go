// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog bounds how long a single authorization request may
// run. Rule evaluation itself is constant-time lookups, but resolving
// a subject consults NSS, and a misconfigured LDAP or SSSD backend can
// hang there indefinitely. A hung authority is worse than a dead one:
// clients block instead of failing over to a denial. The watchdog
// turns the hang into a crash so the service manager restarts the
// daemon into a clean state.
//
// Each request arms the watchdog and disarms it when the response is
// written. A request that outlives the deadline is logged with its
// context and the process exits.
package watchdog

import (
	"log/slog"
	"os"
	"time"

	"github.com/ikeydoherty/polkit-no-script/lib/clock"
)

// Options configures a Watchdog.
type Options struct {
	// Timeout is how long one request may run before the watchdog
	// fires. Zero or negative disables the watchdog: Arm returns a
	// no-op disarm.
	Timeout time.Duration

	// Logger receives the firing diagnostic. Nil means slog.Default.
	Logger *slog.Logger

	// Clock drives the deadline timers. Nil means the real clock.
	Clock clock.Clock

	// Exit terminates the process when the watchdog fires. Nil means
	// os.Exit. Tests inject a recorder here.
	Exit func(code int)
}

// Watchdog arms a deadline per request. Safe for concurrent use; each
// Arm carries its own timer.
type Watchdog struct {
	timeout time.Duration
	logger  *slog.Logger
	clk     clock.Clock
	exit    func(code int)
}

// New builds a Watchdog.
func New(opts Options) *Watchdog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Watchdog{
		timeout: opts.Timeout,
		logger:  opts.Logger,
		clk:     opts.Clock,
		exit:    opts.Exit,
	}
}

// Enabled reports whether the watchdog will arm at all.
func (w *Watchdog) Enabled() bool {
	return w.timeout > 0
}

// Arm starts the deadline for one request and returns its disarm
// function. The operation string names the request in the firing
// diagnostic. Disarming more than once is harmless; disarming after
// the watchdog fired is moot, the process is already exiting.
func (w *Watchdog) Arm(operation string) func() {
	if !w.Enabled() {
		return func() {}
	}
	timer := w.clk.AfterFunc(w.timeout, func() {
		w.logger.Error("request exceeded the watchdog deadline, aborting",
			"operation", operation,
			"timeout", w.timeout,
		)
		w.exit(1)
	})
	return func() { timer.Stop() }
}
