// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"cmp"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// chain is one fully built policy: every successfully parsed rule
// file in precedence order, plus the diagnostics of the load pass that
// built it. Chains are immutable; Reload always builds a fresh one and
// the old one is garbage once the last in-flight query drops it.
type chain struct {
	sets        []*policy.RuleSet
	fingerprint string
	loadedAt    time.Time
	fileErrors  map[string]string
}

// Status describes the currently loaded policy chain.
type Status struct {
	// Fingerprint is a BLAKE3 digest over the paths and contents of
	// the loaded files in chain order. Two processes reporting the
	// same fingerprint are enforcing the same policy, which makes
	// stale-reload incidents diagnosable from logs alone.
	Fingerprint string `json:"fingerprint"`

	// LoadedAt is when the chain was built.
	LoadedAt time.Time `json:"loaded_at"`

	// Files are the loaded rule files in evaluation order.
	Files []string `json:"files"`

	// NormalRules and AdminRules count the compiled rules.
	NormalRules int `json:"normal_rules"`
	AdminRules  int `json:"admin_rules"`

	// FileErrors maps each rule file that failed to load to its
	// diagnostic. Failed files contribute no rules but never abort
	// the rest of the chain.
	FileErrors map[string]string `json:"file_errors,omitempty"`

	// Watching reports whether the rule directories are being observed
	// for changes.
	Watching bool `json:"watching"`
}

// Reload rebuilds the chain from the rule directories and swaps it in.
// Rebuilds are serialized; queries keep reading the old chain until
// the single pointer swap, so they always observe a complete chain.
// Subscribers are notified after the swap. The returned Status
// describes the chain that was just installed.
func (a *Authority) Reload() Status {
	a.reloadMu.Lock()
	c := a.buildChain()
	a.current.Store(c)
	a.reloadMu.Unlock()

	a.logger.Info("policy chain loaded",
		"files", len(c.sets),
		"file_errors", len(c.fileErrors),
		"fingerprint", c.fingerprint,
	)
	a.notifyChanged()
	return a.statusOf(c)
}

// Status describes the chain queries are currently evaluated against.
func (a *Authority) Status() Status {
	return a.statusOf(a.current.Load())
}

func (a *Authority) statusOf(c *chain) Status {
	s := Status{
		Fingerprint: c.fingerprint,
		LoadedAt:    c.loadedAt,
		FileErrors:  c.fileErrors,
		Watching:    a.watching.Load(),
	}
	for _, set := range c.sets {
		s.Files = append(s.Files, set.Path)
		s.NormalRules += len(set.Normal)
		s.AdminRules += len(set.Admin)
	}
	return s
}

// ruleFile is a discovered rule file candidate before parsing.
type ruleFile struct {
	base     string
	dirIndex int
	path     string
}

// buildChain enumerates the rule directories, orders the discovered
// files, and parses each into the new chain. Per-file and
// per-directory failures are logged and skipped: partial failure is
// always scoped to the smallest unit and a fully failed load still
// yields a usable empty chain.
func (a *Authority) buildChain() *chain {
	var files []ruleFile
	for i, dir := range a.ruleDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			// A rule directory is allowed to not exist.
			if !errors.Is(err, fs.ErrNotExist) {
				a.logger.Warn("cannot list rule directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, policy.RuleFileSuffix) {
				continue
			}
			files = append(files, ruleFile{
				base:     name,
				dirIndex: i,
				path:     filepath.Join(dir, name),
			})
		}
	}

	// Base name decides evaluation order across all directories.
	// Same-named files tie-break on configured directory order, so an
	// administrator shadows a vendor file simply by reusing its name
	// in an earlier directory.
	slices.SortFunc(files, func(x, y ruleFile) int {
		if c := strings.Compare(x.base, y.base); c != 0 {
			return c
		}
		return cmp.Compare(x.dirIndex, y.dirIndex)
	})

	hasher := blake3.New()
	c := &chain{
		loadedAt:   time.Now(),
		fileErrors: make(map[string]string),
	}
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			a.logger.Warn("cannot read rule file", "path", f.path, "error", err)
			c.fileErrors[f.path] = err.Error()
			continue
		}
		set, err := policy.Parse(f.path, data, a.parseOpts)
		if err != nil {
			a.logger.Warn("cannot parse rule file", "path", f.path, "error", err)
			c.fileErrors[f.path] = err.Error()
			continue
		}
		c.sets = append(c.sets, set)

		// The fingerprint covers path and content of every file that
		// made it into the chain, in chain order.
		hasher.Write([]byte(f.path))
		hasher.Write([]byte{0})
		hasher.Write(data)
		hasher.Write([]byte{0})
	}
	c.fingerprint = hex.EncodeToString(hasher.Sum(nil))
	return c
}
