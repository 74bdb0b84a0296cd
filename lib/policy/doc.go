// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the keyfile rule format: parsing rule
// files into ordered rule sets and matching individual rules against
// an authorization request.
//
// A rule file is an INI-style keyfile identified by the ".keyrules"
// suffix. Its [Policy] section names the rule sections to load, in
// evaluation order:
//
//	[Policy]
//	Rules=Deny remote power-off;Admins do anything
//	AdminRules=Wheel admins
//
//	[Deny remote power-off]
//	Actions=org.freedesktop.login1.power-off
//	SubjectLocal=false
//	Result=no
//
//	[Admins do anything]
//	InUnixGroups=%wheel%
//	Result=yes
//
//	[Wheel admins]
//	InUnixGroups=%wheel%
//
// Every key in a rule section is optional. Present keys are
// constraints that must all hold for the rule to be satisfied; an
// absent key matches anything. Actions and ActionContains form a
// single dimension: when either is present, the action must match one
// exact Actions entry (or the "*" token) or contain one ActionContains
// substring. Result is the verdict produced when the rule is
// satisfied; ResultInverse is the verdict produced when it is not, so
// one section can express a rule and its fallback together.
//
// Admin rule sections reuse the same constraint keys, but their
// InUserNames and InUnixGroups entries double as the administrative
// identities contributed when the rule is satisfied.
//
// Parsing is strict within a file: an unrecognized Result keyword, a
// malformed boolean, or a listed section that does not exist fails the
// entire file. Fail-soft behavior across files is the loader's job
// (package authority), not the parser's.
package policy
