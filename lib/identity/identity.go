// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity models the unix principals that authorization
// deals in: the subject being checked, and the user/group/netgroup
// identities that administrator resolution produces.
package identity

import (
	"fmt"
	"strings"
)

// Kind discriminates identity namespaces.
type Kind int

const (
	// UnixUser identifies an account by name.
	UnixUser Kind = iota

	// UnixGroup identifies a unix group by name.
	UnixGroup

	// UnixNetgroup identifies a netgroup by name.
	UnixNetgroup
)

// String returns the namespace prefix used in the textual identity
// form.
func (k Kind) String() string {
	switch k {
	case UnixUser:
		return "unix-user"
	case UnixGroup:
		return "unix-group"
	case UnixNetgroup:
		return "unix-netgroup"
	}
	return "unknown"
}

// Identity names one unix principal. Its textual form is
// "kind:name", e.g. "unix-user:root" or "unix-group:wheel".
type Identity struct {
	Kind Kind
	Name string
}

// User returns a unix-user identity.
func User(name string) Identity { return Identity{Kind: UnixUser, Name: name} }

// Group returns a unix-group identity.
func Group(name string) Identity { return Identity{Kind: UnixGroup, Name: name} }

// Netgroup returns a unix-netgroup identity.
func Netgroup(name string) Identity { return Identity{Kind: UnixNetgroup, Name: name} }

// String returns the "kind:name" form.
func (id Identity) String() string {
	return id.Kind.String() + ":" + id.Name
}

// Parse converts the "kind:name" form into an Identity.
func Parse(s string) (Identity, error) {
	kind, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return Identity{}, fmt.Errorf("malformed identity %q: want kind:name", s)
	}
	switch kind {
	case "unix-user":
		return User(name), nil
	case "unix-group":
		return Group(name), nil
	case "unix-netgroup":
		return Netgroup(name), nil
	}
	return Identity{}, fmt.Errorf("unknown identity kind %q", kind)
}

// ParseList converts a slice of "kind:name" strings, as found in
// configuration files.
func ParseList(values []string) ([]Identity, error) {
	ids := make([]Identity, 0, len(values))
	for _, v := range values {
		id, err := Parse(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarshalText implements encoding.TextMarshaler using the "kind:name"
// form.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
