// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ikeydoherty/polkit-no-script/lib/identity"
	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// DefaultRuleDirs returns the system rule directories, highest
// precedence first: the administrator's directory shadows the one
// shipped by the OS vendor.
func DefaultRuleDirs() []string {
	return []string{
		"/etc/polkit-1/rules.d",
		"/usr/share/polkit-1/rules.d",
	}
}

// DefaultAdminIdentities returns the fallback administrator set used
// when no admin rule contributes an identity.
func DefaultAdminIdentities() []identity.Identity {
	return []identity.Identity{identity.User("root")}
}

// Options configure an Authority.
type Options struct {
	// RuleDirs are the rule directories in precedence order. When two
	// files share a base name, the file from the earlier directory is
	// evaluated first and therefore shadows the later one. Empty means
	// DefaultRuleDirs.
	RuleDirs []string

	// PrivilegedGroup replaces the %wheel% token in rule files. Empty
	// means policy.DefaultPrivilegedGroup.
	PrivilegedGroup string

	// DefaultAdmins is the AdminIdentities result when no admin rule
	// contributes anything. Empty means DefaultAdminIdentities.
	DefaultAdmins []identity.Identity

	// Logger receives load and watch diagnostics. Nil means
	// slog.Default(). Diagnostics are log lines only; authorization
	// callers never see structured errors, just verdicts.
	Logger *slog.Logger
}

// Authority compiles the rule directories into an ordered policy
// chain and answers authorization queries against it.
//
// The chain is shared, read-mostly state: queries load an immutable
// snapshot through an atomic pointer and never block, while Reload
// builds a complete replacement off to the side and swaps it in. No
// rule data is ever mutated after parsing.
type Authority struct {
	ruleDirs      []string
	parseOpts     policy.ParseOptions
	defaultAdmins []identity.Identity
	logger        *slog.Logger

	// current is the compiled chain. Never nil after New.
	current atomic.Pointer[chain]

	// reloadMu serializes rebuilds so swaps cannot race each other.
	// Readers never take it.
	reloadMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]func()

	watching  atomic.Bool
	watchDone chan struct{}
}

// New builds an Authority and performs the initial load. Construction
// cannot fail: unreadable directories and malformed files degrade to
// an emptier chain per the fail-soft contract, and an empty chain
// simply resolves every request to its implicit default.
func New(opts Options) *Authority {
	a := &Authority{
		ruleDirs:      opts.RuleDirs,
		parseOpts:     policy.ParseOptions{PrivilegedGroup: opts.PrivilegedGroup},
		defaultAdmins: opts.DefaultAdmins,
		logger:        opts.Logger,
		subscribers:   make(map[string]func()),
	}
	if len(a.ruleDirs) == 0 {
		a.ruleDirs = DefaultRuleDirs()
	}
	if len(a.defaultAdmins) == 0 {
		a.defaultAdmins = DefaultAdminIdentities()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.Reload()
	return a
}

// Result is the outcome of one chain evaluation, including the trace
// needed for audit records.
type Result struct {
	// Verdict is the effective verdict.
	Verdict policy.Verdict `json:"verdict"`

	// Matched reports whether a rule produced the verdict. False means
	// the chain fell through to the caller's implicit default.
	Matched bool `json:"matched"`

	// RulePath is the file the deciding rule was loaded from.
	RulePath string `json:"rule_path,omitempty"`

	// RuleID is the section name of the deciding rule.
	RuleID string `json:"rule_id,omitempty"`
}

// Check walks the chain for the subject and action and returns the
// verdict with its trace.
//
// RuleSets are visited in chain order (file precedence) and each
// normal rule list in declaration order. The first rule that produces
// a verdict — Result when satisfied, ResultInverse when not — decides
// the request. When no rule decides, the caller-supplied implicit
// default is the verdict and Matched is false.
func (a *Authority) Check(sub identity.Subject, actionID string, implicit policy.Verdict) Result {
	c := a.current.Load()
	for _, set := range c.sets {
		for i := range set.Normal {
			rule := &set.Normal[i]
			verdict := rule.Outcome(sub, actionID)
			if verdict == policy.Unset {
				continue
			}
			return Result{
				Verdict:  verdict,
				Matched:  true,
				RulePath: set.Path,
				RuleID:   rule.ID,
			}
		}
	}
	return Result{Verdict: implicit}
}

// Evaluate is Check without the trace.
func (a *Authority) Evaluate(sub identity.Subject, actionID string, implicit policy.Verdict) policy.Verdict {
	return a.Check(sub, actionID, implicit).Verdict
}

// AdminIdentities resolves which administrators may satisfy an
// auth_admin verdict for the subject and action.
//
// Unlike Check this walk is additive: every satisfied admin rule in
// the whole chain contributes, in chain then declaration order. A
// satisfied rule contributes its InUserNames entries as unix-user
// identities followed by its InUnixGroups entries as unix-group
// identities. Duplicates are dropped, first occurrence wins, so agents
// prompt in a stable order. When nothing contributes, the configured
// default administrators are returned.
func (a *Authority) AdminIdentities(sub identity.Subject, actionID string) []identity.Identity {
	c := a.current.Load()

	var out []identity.Identity
	seen := make(map[identity.Identity]struct{})
	add := func(id identity.Identity) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, set := range c.sets {
		for i := range set.Admin {
			rule := &set.Admin[i]
			if !rule.Satisfied(sub, actionID) {
				continue
			}
			for _, name := range rule.UserNames {
				add(identity.User(name))
			}
			for _, group := range rule.UnixGroups {
				add(identity.Group(group))
			}
		}
	}

	if len(out) == 0 {
		out = append(out, a.defaultAdmins...)
	}
	return out
}

// Subscribe registers a callback invoked after every successful
// reload, keyed by id for later removal. Callbacks run on the
// reloading goroutine and must return quickly; subscriber order is
// unspecified.
func (a *Authority) Subscribe(id string, fn func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers[id] = fn
}

// Unsubscribe removes a callback registered with Subscribe.
func (a *Authority) Unsubscribe(id string) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	delete(a.subscribers, id)
}

// notifyChanged invokes the subscribers outside the reload lock, so a
// callback may call back into Status or Reload.
func (a *Authority) notifyChanged() {
	a.subMu.Lock()
	callbacks := make([]func(), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		callbacks = append(callbacks, fn)
	}
	a.subMu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
