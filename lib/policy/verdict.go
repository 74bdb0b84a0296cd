// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of evaluating an authorization request: it
// says whether the action proceeds and what authentication, if any,
// must happen first.
type Verdict int

const (
	// Unset is the zero value. It never decides a request; it marks an
	// absent Result or ResultInverse key and a rule that produced no
	// verdict.
	Unset Verdict = iota

	// No denies the request outright.
	No

	// AuthSelf requires the subject to authenticate as themselves.
	AuthSelf

	// AuthSelfKeep is AuthSelf with the successful authentication
	// retained for a bounded duration.
	AuthSelfKeep

	// AuthAdmin requires authentication as an administrative user.
	AuthAdmin

	// AuthAdminKeep is AuthAdmin with the successful authentication
	// retained for a bounded duration.
	AuthAdminKeep

	// Yes grants the request outright.
	Yes
)

// ParseVerdict maps a Result keyword from a rule file to a Verdict.
// Keywords match case-insensitively; rule files conventionally use
// lowercase.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no":
		return No, nil
	case "yes":
		return Yes, nil
	case "auth_self":
		return AuthSelf, nil
	case "auth_self_keep":
		return AuthSelfKeep, nil
	case "auth_admin":
		return AuthAdmin, nil
	case "auth_admin_keep":
		return AuthAdminKeep, nil
	}
	return Unset, fmt.Errorf("unknown authorization result %q", s)
}

// String returns the rule-file keyword for the verdict, or "unset".
func (v Verdict) String() string {
	switch v {
	case No:
		return "no"
	case Yes:
		return "yes"
	case AuthSelf:
		return "auth_self"
	case AuthSelfKeep:
		return "auth_self_keep"
	case AuthAdmin:
		return "auth_admin"
	case AuthAdminKeep:
		return "auth_admin_keep"
	}
	return "unset"
}

// RequiresAuthentication reports whether the verdict demands an
// authentication exchange before the action may proceed.
func (v Verdict) RequiresAuthentication() bool {
	switch v {
	case AuthSelf, AuthSelfKeep, AuthAdmin, AuthAdminKeep:
		return true
	}
	return false
}

// RequiresAdmin reports whether the demanded authentication must be
// performed by an administrative identity rather than the subject.
func (v Verdict) RequiresAdmin() bool {
	return v == AuthAdmin || v == AuthAdminKeep
}

// Keep reports whether a successful authentication under this verdict
// is retained for later requests on the same action.
func (v Verdict) Keep() bool {
	return v == AuthSelfKeep || v == AuthAdminKeep
}

// MarshalText implements encoding.TextMarshaler so verdicts appear as
// their rule-file keywords in JSON and CBOR encodings.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unlike
// ParseVerdict it also accepts "unset", so wire values round-trip.
func (v *Verdict) UnmarshalText(text []byte) error {
	if string(text) == "unset" || len(text) == 0 {
		*v = Unset
		return nil
	}
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
