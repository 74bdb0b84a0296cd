// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package tempauth retains successful authentications. When an
// authorization check resolves to auth_self_keep or auth_admin_keep
// and the external agent reports that authentication succeeded, the
// daemon records a time-bounded authorization here; later checks for
// the same subject and action pass without prompting again until the
// entry expires. Entries live only in memory: retained authorizations
// die with the process, matching the semantics callers expect from a
// privilege mediator.
package tempauth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ikeydoherty/polkit-no-script/lib/clock"
)

// Authorization is one retained authentication.
type Authorization struct {
	// UID is the subject the authentication was performed for.
	UID uint32 `json:"uid"`

	// ActionID is the action the authentication covers.
	ActionID string `json:"action_id"`

	// GrantedAt is when the agent reported success.
	GrantedAt time.Time `json:"granted_at"`

	// ExpiresAt is when the retention lapses.
	ExpiresAt time.Time `json:"expires_at"`
}

// storeKey identifies a retained authorization: one per subject and
// action, re-granting refreshes the expiry.
type storeKey struct {
	uid      uint32
	actionID string
}

// Store holds retained authorizations with single-writer updates and
// concurrent reads. Reads happen on every authorization check; writes
// only when an agent completes or an administrator revokes, so the
// read/write balance mirrors the policy chain itself.
type Store struct {
	ttl   time.Duration
	clock clock.Clock

	mu    sync.RWMutex
	byKey map[storeKey]*Authorization

	// byExpiry is sorted ascending so SweepExpired only inspects the
	// front of the slice.
	byExpiry []*Authorization
}

// New builds a Store granting authorizations for ttl. A zero or
// negative ttl disables retention: Grant refuses and Authorized is
// always false. A nil clk means the real clock.
func New(ttl time.Duration, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		ttl:   ttl,
		clock: clk,
		byKey: make(map[storeKey]*Authorization),
	}
}

// Enabled reports whether retention is configured at all.
func (s *Store) Enabled() bool { return s.ttl > 0 }

// Grant records a successful authentication for the subject and
// action, valid for the store's TTL. Granting again before expiry
// refreshes the window. Returns false when retention is disabled.
func (s *Store) Grant(uid uint32, actionID string) (Authorization, bool) {
	if !s.Enabled() {
		return Authorization{}, false
	}
	now := s.clock.Now()
	auth := &Authorization{
		UID:       uid,
		ActionID:  actionID,
		GrantedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{uid: uid, actionID: actionID}
	if previous, ok := s.byKey[key]; ok {
		s.removeFromExpiryLocked(previous)
	}
	s.byKey[key] = auth

	// Insert sorted by expiry.
	position := sort.Search(len(s.byExpiry), func(i int) bool {
		return s.byExpiry[i].ExpiresAt.After(auth.ExpiresAt)
	})
	s.byExpiry = append(s.byExpiry, nil)
	copy(s.byExpiry[position+1:], s.byExpiry[position:])
	s.byExpiry[position] = auth

	return *auth, true
}

// Authorized reports whether the subject holds an unexpired retained
// authorization for the action. Expiry is checked here too, so an
// entry never counts during the window between lapsing and the next
// sweep.
func (s *Store) Authorized(uid uint32, actionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auth, ok := s.byKey[storeKey{uid: uid, actionID: actionID}]
	return ok && auth.ExpiresAt.After(s.clock.Now())
}

// Revoke removes the retained authorization for one subject and
// action. Returns whether one existed.
func (s *Store) Revoke(uid uint32, actionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{uid: uid, actionID: actionID}
	auth, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	s.removeFromExpiryLocked(auth)
	return true
}

// RevokeSubject removes every retained authorization held by the
// subject. Returns how many were removed.
func (s *Store) RevokeSubject(uid uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	filtered := s.byExpiry[:0]
	for _, auth := range s.byExpiry {
		if auth.UID == uid {
			delete(s.byKey, storeKey{uid: auth.UID, actionID: auth.ActionID})
			removed++
			continue
		}
		filtered = append(filtered, auth)
	}
	s.byExpiry = filtered
	return removed
}

// SweepExpired removes entries whose expiry has passed. Returns how
// many were removed. Authorized already ignores expired entries; the
// sweep only reclaims memory.
func (s *Store) SweepExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// The slice is sorted by expiry, so expired entries sit at the
	// front.
	expiredCount := 0
	for _, auth := range s.byExpiry {
		if auth.ExpiresAt.After(now) {
			break
		}
		expiredCount++
	}
	if expiredCount == 0 {
		return 0
	}

	for i := 0; i < expiredCount; i++ {
		auth := s.byExpiry[i]
		delete(s.byKey, storeKey{uid: auth.UID, actionID: auth.ActionID})
	}
	s.byExpiry = s.byExpiry[expiredCount:]
	return expiredCount
}

// Sweep runs SweepExpired every interval until ctx is cancelled. Run
// it on its own goroutine.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}

// Len returns the number of retained authorizations, including any
// expired but not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Snapshot returns the retained authorizations ordered by expiry, for
// status reporting.
func (s *Store) Snapshot() []Authorization {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Authorization, 0, len(s.byExpiry))
	for _, auth := range s.byExpiry {
		out = append(out, *auth)
	}
	return out
}

// removeFromExpiryLocked drops one entry from the expiry ordering.
func (s *Store) removeFromExpiryLocked(target *Authorization) {
	for i, auth := range s.byExpiry {
		if auth == target {
			s.byExpiry = append(s.byExpiry[:i], s.byExpiry[i+1:]...)
			return
		}
	}
}
