// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority compiles keyfile rule directories into an ordered
// policy chain and evaluates authorization requests against it.
//
// # Chain
//
// The chain is the list of parsed rule files in precedence order.
// Order is decided by base file name; when two directories ship a file
// with the same base name, the directory listed earlier in the
// configuration wins the tie, so /etc can shadow /usr/share without
// editing vendor files. Loading is fail-soft per file: a malformed
// file is logged, reported in Status, and skipped, and never takes
// down the rest of the chain.
//
// # Evaluation
//
// A normal authorization check walks the chain and returns the verdict
// of the first rule that produces one (Result when the rule's
// constraints are satisfied, ResultInverse when they are not). Nothing
// matching means the caller's implicit default stands. Administrator
// resolution walks the admin rule lists instead and is additive: every
// satisfied rule contributes identities, in chain order.
//
// # Reload
//
// Reload builds a complete new chain and installs it with one atomic
// pointer swap. Queries read whatever chain was current when they
// started and are never blocked by a reload; rebuilds themselves are
// serialized. Watch observes the rule directories through fsnotify and
// triggers Reload when a rule file is created, changed, removed, or
// renamed, coalescing event bursts into one rebuild.
package authority
