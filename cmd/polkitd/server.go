// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package main

// Authority socket serving: clients connect to the unix socket, send
// one JSON request, read one JSON response and disconnect. The daemon
// identifies the connecting process from the socket's peer credential
// (SO_PEERCRED), so an unprivileged caller can only ask about itself;
// naming another subject or reloading policy requires uid 0.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ikeydoherty/polkit-no-script/ipc"
	"github.com/ikeydoherty/polkit-no-script/lib/action"
	"github.com/ikeydoherty/polkit-no-script/lib/authority"
	"github.com/ikeydoherty/polkit-no-script/lib/identity"
	"github.com/ikeydoherty/polkit-no-script/lib/journal"
	"github.com/ikeydoherty/polkit-no-script/lib/policy"
	"github.com/ikeydoherty/polkit-no-script/lib/tempauth"
	"github.com/ikeydoherty/polkit-no-script/lib/version"
	"github.com/ikeydoherty/polkit-no-script/lib/watchdog"
)

// Daemon is the core daemon state.
type Daemon struct {
	auth     *authority.Authority
	registry *action.Registry
	retained *tempauth.Store

	// journal is nil when the decision journal is disabled.
	journal *journal.Writer

	watchdog  *watchdog.Watchdog
	directory identity.Directory

	socketPath string
	listener   net.Listener
	logger     *slog.Logger
}

// startListener creates the authority unix socket and starts accepting
// client connections in a goroutine.
func (d *Daemon) startListener(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	// Remove stale socket from a previous run.
	if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing existing socket: %w", err)
	}

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("creating socket at %s: %w", d.socketPath, err)
	}
	d.listener = listener

	// Any local user may ask questions; the answer is what is access
	// controlled, and privileged operations check the peer credential.
	if err := os.Chmod(d.socketPath, 0o666); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	d.logger.Info("authority listener started", "socket", d.socketPath)

	go d.acceptConnections(ctx)
	return nil
}

// stopListener closes the authority socket and removes the file.
func (d *Daemon) stopListener() {
	if d.listener != nil {
		d.listener.Close()
		os.Remove(d.socketPath)
	}
}

// acceptConnections runs the accept loop for the authority socket.
// Each connection is handled in its own goroutine.
func (d *Daemon) acceptConnections(ctx context.Context) {
	for {
		connection, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if !strings.Contains(err.Error(), "use of closed network connection") {
					d.logger.Error("accept authority connection", "error", err)
				}
				return
			}
		}
		go d.handleClient(connection)
	}
}

// handleClient processes a single request on the authority socket. It
// resolves the peer credential, reads the JSON request, dispatches on
// the action field, and writes the JSON response.
func (d *Daemon) handleClient(connection net.Conn) {
	defer connection.Close()

	// One request/response exchange per connection; a peer that stalls
	// holds nothing but its own connection.
	connection.SetDeadline(time.Now().Add(10 * time.Second))

	peer, err := peerCredential(connection)
	if err != nil {
		d.sendError(connection, fmt.Sprintf("resolving peer credential: %v", err))
		return
	}

	var request ipc.Request
	if err := json.NewDecoder(connection).Decode(&request); err != nil {
		d.sendError(connection, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch request.Action {
	case ipc.ActionCheck:
		d.handleCheck(connection, request, peer)
	case ipc.ActionAdminIdentities:
		d.handleAdminIdentities(connection, request, peer)
	case ipc.ActionRegister:
		d.handleRegister(connection, request, peer)
	case ipc.ActionRevoke:
		d.handleRevoke(connection, request, peer)
	case ipc.ActionStatus:
		d.handleStatus(connection)
	case ipc.ActionReload:
		d.handleReload(connection, peer)
	default:
		d.sendError(connection, fmt.Sprintf("unknown action %q", request.Action))
	}
}

// subjectUID resolves which uid a request is about. Nil means the
// connecting peer. Naming a different subject than the peer is only
// honored for uid 0: an unprivileged process may ask about itself, not
// about others.
func (d *Daemon) subjectUID(request ipc.Request, peer uint32) (uint32, error) {
	if request.UID == nil {
		return peer, nil
	}
	if *request.UID != peer && peer != 0 {
		return 0, fmt.Errorf("peer uid %d may not name subject uid %d", peer, *request.UID)
	}
	return *request.UID, nil
}

// sessionFlags applies the request's session defaults: a caller on the
// local unix socket is local, and treating it as active errs toward
// prompting rather than silently denying.
func sessionFlags(request ipc.Request) (local, active bool) {
	local, active = true, true
	if request.Local != nil {
		local = *request.Local
	}
	if request.Active != nil {
		active = *request.Active
	}
	return local, active
}

// resolveSubject builds the evaluation subject for a request. The
// watchdog must already be armed: the uid and group lookups go through
// NSS, which is exactly where a misbehaving name service hangs.
func (d *Daemon) resolveSubject(request ipc.Request, peer uint32) (identity.Subject, error) {
	uid, err := d.subjectUID(request, peer)
	if err != nil {
		return identity.Subject{}, err
	}
	local, active := sessionFlags(request)
	return identity.NewSubject(d.directory, uid, local, active)
}

// handleCheck evaluates one authorization: registry implicit default,
// rule chain walk, retained-authentication credit, decision journal.
func (d *Daemon) handleCheck(connection net.Conn, request ipc.Request, peer uint32) {
	if request.ActionID == "" {
		d.sendError(connection, "action_id is required")
		return
	}

	disarm := d.watchdog.Arm(ipc.ActionCheck)
	defer disarm()

	subject, err := d.resolveSubject(request, peer)
	if err != nil {
		d.sendError(connection, fmt.Sprintf("resolving subject: %v", err))
		return
	}

	implicit := d.registry.ImplicitFor(request.ActionID, subject.Local, subject.Active)
	result := d.auth.Check(subject, request.ActionID, implicit)

	check := ipc.CheckResult{
		Verdict:  result.Verdict,
		Implicit: implicit,
		Matched:  result.Matched,
		RuleID:   result.RuleID,
		RulePath: result.RulePath,
	}
	switch {
	case result.Verdict == policy.Yes:
		check.Authorized = true
	case result.Verdict.Keep() && d.retained.Authorized(subject.UID, request.ActionID):
		// A completed *_keep authentication covers the verdict until
		// it expires. A policy change that stops requiring
		// authentication keeps deciding first: the chain ran already.
		check.Authorized = true
		check.Retained = true
	}

	d.journalDecision(subject, request.ActionID, check)

	d.logger.Debug("authorization checked",
		"action_id", request.ActionID,
		"uid", subject.UID,
		"verdict", result.Verdict,
		"authorized", check.Authorized,
	)
	d.send(connection, ipc.Response{OK: true, Check: &check})
}

// handleAdminIdentities resolves who may satisfy an admin
// authentication for the subject and action.
func (d *Daemon) handleAdminIdentities(connection net.Conn, request ipc.Request, peer uint32) {
	if request.ActionID == "" {
		d.sendError(connection, "action_id is required")
		return
	}

	disarm := d.watchdog.Arm(ipc.ActionAdminIdentities)
	defer disarm()

	subject, err := d.resolveSubject(request, peer)
	if err != nil {
		d.sendError(connection, fmt.Sprintf("resolving subject: %v", err))
		return
	}

	identities := d.auth.AdminIdentities(subject, request.ActionID)
	admins := make([]string, 0, len(identities))
	for _, id := range identities {
		admins = append(admins, id.String())
	}
	d.send(connection, ipc.Response{OK: true, Admins: admins})
}

// handleRegister records a completed authentication so later checks on
// the same subject and action pass without another prompt. Only
// verdicts that retain (auth_self_keep, auth_admin_keep) are honored.
func (d *Daemon) handleRegister(connection net.Conn, request ipc.Request, peer uint32) {
	if request.ActionID == "" {
		d.sendError(connection, "action_id is required")
		return
	}
	if !d.retained.Enabled() {
		d.sendError(connection, "retained authorizations are disabled")
		return
	}

	disarm := d.watchdog.Arm(ipc.ActionRegister)
	defer disarm()

	subject, err := d.resolveSubject(request, peer)
	if err != nil {
		d.sendError(connection, fmt.Sprintf("resolving subject: %v", err))
		return
	}

	// The grant is only meaningful for the verdict the chain currently
	// produces; registering a yes or a flat auth_admin would let an
	// agent manufacture authorizations policy never retained.
	implicit := d.registry.ImplicitFor(request.ActionID, subject.Local, subject.Active)
	verdict := d.auth.Evaluate(subject, request.ActionID, implicit)
	if !verdict.Keep() {
		d.sendError(connection, fmt.Sprintf("verdict %s for %s does not retain authentications", verdict, request.ActionID))
		return
	}

	grant, ok := d.retained.Grant(subject.UID, request.ActionID)
	if !ok {
		d.sendError(connection, "retained authorizations are disabled")
		return
	}
	d.logger.Info("authorization retained",
		"action_id", request.ActionID,
		"uid", subject.UID,
		"expires", grant.ExpiresAt,
	)
	d.send(connection, ipc.Response{OK: true})
}

// handleRevoke drops every retained authentication held by the subject.
func (d *Daemon) handleRevoke(connection net.Conn, request ipc.Request, peer uint32) {
	uid, err := d.subjectUID(request, peer)
	if err != nil {
		d.sendError(connection, fmt.Sprintf("resolving subject: %v", err))
		return
	}

	revoked := d.retained.RevokeSubject(uid)
	if revoked > 0 {
		d.logger.Info("authorizations revoked", "uid", uid, "count", revoked)
	}
	d.send(connection, ipc.Response{OK: true, Revoked: revoked})
}

// handleStatus reports the daemon's policy, registry, and journal
// state. Status is readable by any local user: it names rule files and
// load errors, the same facts the files' own permissions already
// expose.
func (d *Daemon) handleStatus(connection net.Conn) {
	status := ipc.StatusInfo{
		Version:      version.Info(),
		PID:          os.Getpid(),
		Policy:       policyStatus(d.auth.Status()),
		Actions:      d.registry.Count(),
		ActionErrors: d.registry.FileErrors(),
		Retained:     d.retained.Len(),
	}
	if d.journal != nil {
		status.JournalSegment = d.journal.CurrentSegment()
	}
	d.send(connection, ipc.Response{OK: true, Status: &status})
}

// handleReload rebuilds the policy chain and action registry on
// request. Restricted to uid 0: reload is an administrative action
// with process-wide effect.
func (d *Daemon) handleReload(connection net.Conn, peer uint32) {
	if peer != 0 {
		d.sendError(connection, fmt.Sprintf("reload requires a privileged caller, peer uid is %d", peer))
		return
	}
	status := policyStatus(d.reload())
	d.send(connection, ipc.Response{OK: true, Reload: &status})
}

// reload rebuilds everything rebuildable: the rule chain, the action
// registry, and the journal segment (so log management can SIGHUP the
// daemon after moving segments aside). Shared by the SIGHUP handler
// and the wire reload.
func (d *Daemon) reload() authority.Status {
	status := d.auth.Reload()
	d.registry.Reload()
	if d.journal != nil {
		if err := d.journal.Rotate(); err != nil {
			d.logger.Warn("journal rotation failed", "error", err)
		}
	}
	return status
}

// journalDecision appends one decision record. Journal trouble never
// fails the authorization: the caller still deserves its verdict.
func (d *Daemon) journalDecision(subject identity.Subject, actionID string, check ipc.CheckResult) {
	if d.journal == nil {
		return
	}
	_, err := d.journal.Append(journal.Record{
		ActionID: actionID,
		UID:      subject.UID,
		UserName: subject.UserName,
		Groups:   subject.Groups,
		Local:    subject.Local,
		Active:   subject.Active,
		Verdict:  check.Verdict,
		Implicit: check.Implicit,
		Matched:  check.Matched,
		RuleID:   check.RuleID,
		RulePath: check.RulePath,
		Retained: check.Retained,
		Chain:    d.auth.Status().Fingerprint,
	})
	if err != nil {
		d.logger.Warn("journal append failed", "error", err)
	}
}

// policyStatus converts the authority's loader status to its wire
// mirror.
func policyStatus(status authority.Status) ipc.PolicyStatus {
	return ipc.PolicyStatus{
		Fingerprint: status.Fingerprint,
		LoadedAt:    status.LoadedAt,
		Files:       status.Files,
		NormalRules: status.NormalRules,
		AdminRules:  status.AdminRules,
		FileErrors:  status.FileErrors,
		Watching:    status.Watching,
	}
}

// peerCredential returns the uid of the process on the other end of a
// unix socket connection.
func peerCredential(connection net.Conn) (uint32, error) {
	unixConn, ok := connection.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("connection is not a unix socket")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return cred.Uid, nil
}

// sendError answers a request with a failure and logs it. The OK field
// stays false, which is what clients dispatch on.
func (d *Daemon) sendError(connection net.Conn, message string) {
	d.logger.Warn("authority request failed", "error", message)
	json.NewEncoder(connection).Encode(ipc.Response{Error: message})
}

// send writes a success response.
func (d *Daemon) send(connection net.Conn, response ipc.Response) {
	if err := json.NewEncoder(connection).Encode(response); err != nil {
		d.logger.Warn("writing authority response", "error", err)
	}
}
