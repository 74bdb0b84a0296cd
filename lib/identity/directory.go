// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"os/user"
	"strconv"
)

// Directory resolves unix account information for subject
// construction. Implementations must be safe for concurrent use.
type Directory interface {
	// LookupUID resolves a numeric user ID to an account name.
	LookupUID(uid uint32) (string, error)

	// Groups lists the unix group names the account belongs to,
	// including its primary group.
	Groups(username string) ([]string, error)

	// Netgroups lists the netgroup names the account belongs to.
	Netgroups(username string) ([]string, error)
}

// UnixDirectory resolves accounts through the host user database via
// os/user, which consults NSS when cgo is available.
type UnixDirectory struct{}

// LookupUID resolves a uid to its account name.
func (UnixDirectory) LookupUID(uid uint32) (string, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Groups lists the account's group names.
func (UnixDirectory) Groups(username string) ([]string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	gids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(gids))
	for _, gid := range gids {
		g, err := user.LookupGroupId(gid)
		if err != nil {
			// A group can vanish between enumeration and lookup; one
			// stale gid should not fail the whole subject.
			continue
		}
		names = append(names, g.Name)
	}
	return names, nil
}

// Netgroups returns no memberships: the standard library has no
// portable netgroup enumeration. Deployments that constrain rules on
// InNetGroups supply a Directory backed by their name service.
func (UnixDirectory) Netgroups(string) ([]string, error) {
	return nil, nil
}

// StaticDirectory is a fixed in-memory Directory for tests and for
// embedded deployments without a system user database.
type StaticDirectory struct {
	// Users maps uid to account name.
	Users map[uint32]string

	// GroupsByUser maps account name to group names.
	GroupsByUser map[string][]string

	// NetgroupsByUser maps account name to netgroup names.
	NetgroupsByUser map[string][]string
}

// LookupUID resolves a uid from the Users map.
func (d *StaticDirectory) LookupUID(uid uint32) (string, error) {
	name, ok := d.Users[uid]
	if !ok {
		return "", fmt.Errorf("unknown uid %d", uid)
	}
	return name, nil
}

// Groups returns the configured group names for the account.
func (d *StaticDirectory) Groups(username string) ([]string, error) {
	return d.GroupsByUser[username], nil
}

// Netgroups returns the configured netgroup names for the account.
func (d *StaticDirectory) Netgroups(username string) ([]string, error) {
	return d.NetgroupsByUser[username], nil
}
