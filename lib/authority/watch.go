// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// debounceWindow batches filesystem event bursts into one reload.
// Editors and package managers fire several events per file update;
// each reload is atomic and idempotent, so coalescing is purely a
// cost optimization.
const debounceWindow = 500 * time.Millisecond

// Watch starts observing the rule directories and reloads the chain
// when rule files change. It returns once the watches are registered;
// the observation loop runs until ctx is cancelled. Watch may be
// called at most once.
//
// A directory that cannot be watched stays static: its rules still
// load on explicit Reload calls but changes to it go unnoticed. Only
// when no directory at all can be watched does Watch return an error,
// leaving the whole chain static.
func (a *Authority) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}

	watched := 0
	for _, dir := range a.ruleDirs {
		if err := watcher.Add(dir); err != nil {
			a.logger.Warn("cannot watch rule directory, its rules are static",
				"dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return fmt.Errorf("no rule directory could be watched")
	}

	a.watching.Store(true)
	a.watchDone = make(chan struct{})
	go a.watchLoop(ctx, watcher)
	return nil
}

// watchLoop owns the watcher: it filters events, coalesces bursts, and
// triggers reloads until ctx is cancelled.
func (a *Authority) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(a.watchDone)
	defer a.watching.Store(false)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ruleFileEvent(event) {
				continue
			}
			// Wait out the burst, discarding further events, then
			// reload once. Missing a nominally distinct change here is
			// fine: the reload that follows reads the directories
			// fresh and picks it up.
			if !a.drainEvents(ctx, watcher) {
				return
			}
			a.logger.Debug("rule files changed, reloading", "trigger", event.Name)
			a.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

// drainEvents consumes watcher events for one debounce window. Returns
// false when the loop should exit instead of reloading.
func (a *Authority) drainEvents(ctx context.Context, watcher *fsnotify.Watcher) bool {
	timer := time.NewTimer(debounceWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-watcher.Events:
			if !ok {
				return false
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return false
			}
			a.logger.Warn("filesystem watcher error", "error", err)
		case <-timer.C:
			return true
		}
	}
}

// ruleFileEvent reports whether a watcher event concerns a rule file.
// Hidden files and editor scratch files ("."/"#" prefixes) are
// ignored, the rule-file suffix is required, and only creation,
// content, removal, and rename events count — permission churn cannot
// change rule content.
func ruleFileEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "#") {
		return false
	}
	if !strings.HasSuffix(name, policy.RuleFileSuffix) {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}
