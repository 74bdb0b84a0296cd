// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the wire contract between the authority daemon
// and its clients. A client connects to the daemon's unix socket,
// sends one JSON request, reads one JSON response and disconnects.
// The daemon identifies the caller from the socket's peer credential;
// a request may name another subject explicitly, which the daemon
// only honors for privileged callers.
package ipc

import (
	"time"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// DefaultSocketPath is where the daemon listens.
const DefaultSocketPath = "/run/polkit/authority.sock"

// Request action names.
const (
	// ActionCheck evaluates an authorization for a subject and action.
	ActionCheck = "check_authorization"

	// ActionAdminIdentities resolves who may satisfy an admin
	// authentication for a subject and action.
	ActionAdminIdentities = "admin_identities"

	// ActionReload rebuilds the policy chain and action registry now.
	ActionReload = "reload"

	// ActionStatus reports the daemon's policy and registry state.
	ActionStatus = "status"

	// ActionRegister records a completed *_keep authentication so
	// later checks on the same subject and action succeed without
	// another prompt.
	ActionRegister = "register_authorization"

	// ActionRevoke drops a subject's retained authentications.
	ActionRevoke = "revoke_authorizations"
)

// Request is the single JSON message a client sends.
type Request struct {
	// Action selects the operation.
	Action string `json:"action"`

	// ActionID is the action being checked, resolved or registered.
	ActionID string `json:"action_id,omitempty"`

	// UID names the subject. Nil means the connecting peer. Naming a
	// different subject than the peer requires a privileged caller.
	UID *uint32 `json:"uid,omitempty"`

	// Local and Active describe the subject's session. Nil defaults
	// to true for both: a caller on the local unix socket is local,
	// and treating it as active errs toward prompting rather than
	// silently denying.
	Local  *bool `json:"local,omitempty"`
	Active *bool `json:"active,omitempty"`
}

// CheckResult is the outcome of one authorization check.
type CheckResult struct {
	// Verdict is the effective verdict.
	Verdict policy.Verdict `json:"verdict"`

	// Authorized reports whether the action may proceed right now:
	// the verdict is yes, or a retained authentication covered it.
	Authorized bool `json:"authorized"`

	// Retained reports that a retained authentication decided the
	// check instead of the rule chain.
	Retained bool `json:"retained,omitempty"`

	// Implicit is the registry verdict the chain would have fallen
	// through to.
	Implicit policy.Verdict `json:"implicit"`

	// Matched reports whether a rule decided the check; RuleID and
	// RulePath locate that rule.
	Matched  bool   `json:"matched"`
	RuleID   string `json:"rule_id,omitempty"`
	RulePath string `json:"rule_path,omitempty"`
}

// PolicyStatus mirrors the authority's loader status. Defined here so
// the wire format is the contract rather than an internal type.
type PolicyStatus struct {
	Fingerprint string            `json:"fingerprint"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Files       []string          `json:"files"`
	NormalRules int               `json:"normal_rules"`
	AdminRules  int               `json:"admin_rules"`
	FileErrors  map[string]string `json:"file_errors,omitempty"`
	Watching    bool              `json:"watching"`
}

// StatusInfo is the daemon's answer to a status request.
type StatusInfo struct {
	// Version is the daemon's build version.
	Version string `json:"version"`

	// PID is the daemon's process id.
	PID int `json:"pid"`

	// Policy describes the loaded rule chain.
	Policy PolicyStatus `json:"policy"`

	// Actions counts the registered action descriptors; ActionErrors
	// maps descriptor files that failed to load to their diagnostics.
	Actions      int               `json:"actions"`
	ActionErrors map[string]string `json:"action_errors,omitempty"`

	// Retained counts live retained authentications.
	Retained int `json:"retained"`

	// JournalSegment is the open journal segment, empty when the
	// journal is disabled.
	JournalSegment string `json:"journal_segment,omitempty"`
}

// Response is the single JSON message the daemon sends back. Exactly
// one result field is set on success, matching the request's action.
type Response struct {
	// OK is true when the request was processed.
	OK bool `json:"ok"`

	// Error describes why the request failed. Only set when OK is
	// false.
	Error string `json:"error,omitempty"`

	// Check is the result of a check_authorization request.
	Check *CheckResult `json:"check,omitempty"`

	// Admins are the resolved admin identities, in rule order, as
	// "unix-user:" and "unix-group:" strings.
	Admins []string `json:"admins,omitempty"`

	// Status answers a status request.
	Status *StatusInfo `json:"status,omitempty"`

	// Reload describes the chain built by a reload request.
	Reload *PolicyStatus `json:"reload,omitempty"`

	// Revoked counts the retained authentications dropped by a revoke
	// request.
	Revoked int `json:"revoked,omitempty"`
}
