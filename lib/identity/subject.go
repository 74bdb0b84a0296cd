// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "fmt"

// Subject is the resolved context of the caller for one authorization
// check: account identity, memberships, and session state. It is
// read-only input to rule evaluation; every host lookup happens before
// the chain walk, never during it.
type Subject struct {
	// UID is the requesting user ID.
	UID uint32

	// UserName is the account name UID resolved to.
	UserName string

	// Groups are the unix group names the account belongs to.
	Groups []string

	// Netgroups are the netgroup names the account belongs to.
	Netgroups []string

	// Local reports whether the subject's session is on a local seat.
	Local bool

	// Active reports whether the subject's session is in the
	// foreground.
	Active bool
}

// NewSubject resolves uid through dir and combines the result with the
// caller-supplied session flags into an evaluation-ready Subject.
func NewSubject(dir Directory, uid uint32, local, active bool) (Subject, error) {
	name, err := dir.LookupUID(uid)
	if err != nil {
		return Subject{}, fmt.Errorf("resolve uid %d: %w", uid, err)
	}
	groups, err := dir.Groups(name)
	if err != nil {
		return Subject{}, fmt.Errorf("resolve groups of %q: %w", name, err)
	}
	netgroups, err := dir.Netgroups(name)
	if err != nil {
		return Subject{}, fmt.Errorf("resolve netgroups of %q: %w", name, err)
	}
	return Subject{
		UID:       uid,
		UserName:  name,
		Groups:    groups,
		Netgroups: netgroups,
		Local:     local,
		Active:    active,
	}, nil
}
