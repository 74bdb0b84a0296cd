// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Constraint identifies one optional key of a rule section. A rule
// records which keys were actually present so evaluation can tell an
// absent key (matches anything) from an empty one (matches nothing).
type Constraint uint16

const (
	// ConstraintActions: the Actions key was present.
	ConstraintActions Constraint = 1 << iota

	// ConstraintActionContains: the ActionContains key was present.
	ConstraintActionContains

	// ConstraintUnixGroups: the InUnixGroups key was present.
	ConstraintUnixGroups

	// ConstraintNetGroups: the InNetGroups key was present.
	ConstraintNetGroups

	// ConstraintUserNames: the InUserNames key was present.
	ConstraintUserNames

	// ConstraintSubjectActive: the SubjectActive key was present.
	ConstraintSubjectActive

	// ConstraintSubjectLocal: the SubjectLocal key was present.
	ConstraintSubjectLocal

	// ConstraintResult: the Result key was present.
	ConstraintResult

	// ConstraintResultInverse: the ResultInverse key was present.
	ConstraintResultInverse
)

// Rule is one parsed rule section. Rules are immutable after parsing;
// the loader and evaluator share them freely across goroutines.
type Rule struct {
	// ID is the section name the rule was parsed from. Unique within
	// its file, not globally.
	ID string

	// Constraints records which keys were present in the section.
	Constraints Constraint

	// Actions lists action IDs matched exactly. The single entry "*"
	// matches every action.
	Actions []string

	// ActionContains lists substrings matched anywhere in the action
	// ID.
	ActionContains []string

	// UnixGroups lists unix group names the subject must belong to at
	// least one of. In admin rules the entries double as contributed
	// administrator group identities.
	UnixGroups []string

	// NetGroups lists netgroup names the subject must belong to at
	// least one of.
	NetGroups []string

	// UserNames lists account names the subject must be one of. In
	// admin rules the entries double as contributed administrator user
	// identities.
	UserNames []string

	// RequireActive is the session activity the subject must have when
	// ConstraintSubjectActive is set.
	RequireActive bool

	// RequireLocal is the session locality the subject must have when
	// ConstraintSubjectLocal is set.
	RequireLocal bool

	// Result is the verdict produced when the rule is satisfied.
	Result Verdict

	// ResultInverse is the verdict produced when the rule is not
	// satisfied. A rule carrying both keys always produces a verdict.
	ResultInverse Verdict
}

// Has reports whether the given key was present in the rule's section.
func (r *Rule) Has(c Constraint) bool {
	return r.Constraints&c != 0
}

// RuleSet is one compiled rule file: the normal rules that produce
// verdicts and the admin rules that contribute administrator
// identities, each in declaration order. RuleSets are immutable after
// parsing.
type RuleSet struct {
	// Path is where the file was loaded from, for precedence
	// diagnostics and audit records.
	Path string

	// Normal are the sections named by the Rules key.
	Normal []Rule

	// Admin are the sections named by the AdminRules key.
	Admin []Rule
}
