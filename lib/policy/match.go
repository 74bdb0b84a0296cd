// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"slices"
	"strings"

	"github.com/ikeydoherty/polkit-no-script/lib/identity"
)

// MatchAllToken is the Actions entry that matches every action ID.
const MatchAllToken = "*"

// Satisfied reports whether every constraint present on the rule holds
// for the subject and action. Absent constraints hold trivially, so a
// rule with no constraint keys matches every request.
//
// The two action keys form one dimension: when either is present, the
// dimension holds if any exact Actions entry (or the "*" token)
// matches, or any ActionContains entry is a substring of the action
// ID. Every other dimension is an independent conjunct: group,
// netgroup, and user-name sets are is-member-of-any tests, and the
// session booleans are equality tests.
func (r *Rule) Satisfied(sub identity.Subject, actionID string) bool {
	if r.Has(ConstraintActions) || r.Has(ConstraintActionContains) {
		if !r.actionMatches(actionID) {
			return false
		}
	}
	if r.Has(ConstraintUnixGroups) && !containsAny(sub.Groups, r.UnixGroups) {
		return false
	}
	if r.Has(ConstraintNetGroups) && !containsAny(sub.Netgroups, r.NetGroups) {
		return false
	}
	if r.Has(ConstraintUserNames) && !slices.Contains(r.UserNames, sub.UserName) {
		return false
	}
	if r.Has(ConstraintSubjectActive) && sub.Active != r.RequireActive {
		return false
	}
	if r.Has(ConstraintSubjectLocal) && sub.Local != r.RequireLocal {
		return false
	}
	return true
}

// Outcome resolves the rule to a verdict: Result when the rule is
// satisfied, ResultInverse when it is not, Unset when the relevant key
// is absent. A rule carrying neither key is inert and always yields
// Unset.
func (r *Rule) Outcome(sub identity.Subject, actionID string) Verdict {
	if r.Satisfied(sub, actionID) {
		if r.Has(ConstraintResult) {
			return r.Result
		}
		return Unset
	}
	if r.Has(ConstraintResultInverse) {
		return r.ResultInverse
	}
	return Unset
}

// actionMatches checks the action dimension: an exact Actions entry,
// the "*" token, or an ActionContains substring.
func (r *Rule) actionMatches(actionID string) bool {
	for _, a := range r.Actions {
		if a == MatchAllToken || a == actionID {
			return true
		}
	}
	for _, fragment := range r.ActionContains {
		if strings.Contains(actionID, fragment) {
			return true
		}
	}
	return false
}

// containsAny reports whether any entry of wanted appears in have.
func containsAny(have, wanted []string) bool {
	for _, w := range wanted {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
