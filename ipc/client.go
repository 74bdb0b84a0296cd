// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds one request/response exchange.
const DefaultTimeout = 10 * time.Second

// Client talks to the authority daemon. Each call dials a fresh
// connection; the daemon serves one request per connection.
type Client struct {
	// SocketPath is the daemon socket. Empty means DefaultSocketPath.
	SocketPath string

	// Timeout bounds the whole exchange including the dial. Zero
	// means DefaultTimeout.
	Timeout time.Duration
}

// NewClient returns a Client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath}
}

// Do sends one request and returns the daemon's response. A response
// with OK false is returned as an error.
func (c *Client) Do(req Request) (Response, error) {
	socketPath := c.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connecting to authority at %s: %w", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("authority: %s", resp.Error)
	}
	return resp, nil
}

// CheckAuthorization evaluates actionID for a subject. A nil uid
// means the calling process; nil local and active default to true.
func (c *Client) CheckAuthorization(actionID string, uid *uint32, local, active *bool) (CheckResult, error) {
	resp, err := c.Do(Request{
		Action:   ActionCheck,
		ActionID: actionID,
		UID:      uid,
		Local:    local,
		Active:   active,
	})
	if err != nil {
		return CheckResult{}, err
	}
	if resp.Check == nil {
		return CheckResult{}, fmt.Errorf("authority: response carried no check result")
	}
	return *resp.Check, nil
}

// AdminIdentities resolves who may satisfy an admin authentication
// for the subject and action.
func (c *Client) AdminIdentities(actionID string, uid *uint32) ([]string, error) {
	resp, err := c.Do(Request{
		Action:   ActionAdminIdentities,
		ActionID: actionID,
		UID:      uid,
	})
	if err != nil {
		return nil, err
	}
	return resp.Admins, nil
}

// Reload rebuilds the daemon's policy chain and action registry and
// returns the resulting chain status.
func (c *Client) Reload() (PolicyStatus, error) {
	resp, err := c.Do(Request{Action: ActionReload})
	if err != nil {
		return PolicyStatus{}, err
	}
	if resp.Reload == nil {
		return PolicyStatus{}, fmt.Errorf("authority: response carried no reload status")
	}
	return *resp.Reload, nil
}

// Status reports the daemon's current state.
func (c *Client) Status() (StatusInfo, error) {
	resp, err := c.Do(Request{Action: ActionStatus})
	if err != nil {
		return StatusInfo{}, err
	}
	if resp.Status == nil {
		return StatusInfo{}, fmt.Errorf("authority: response carried no status")
	}
	return *resp.Status, nil
}

// RegisterAuthorization records a completed authentication for a
// subject and action. The daemon only honors it while the action's
// current verdict for that subject is a retaining one.
func (c *Client) RegisterAuthorization(actionID string, uid *uint32) error {
	_, err := c.Do(Request{
		Action:   ActionRegister,
		ActionID: actionID,
		UID:      uid,
	})
	return err
}

// RevokeAuthorizations drops a subject's retained authentications and
// returns how many were dropped. A nil uid means the calling process.
func (c *Client) RevokeAuthorizations(uid *uint32) (int, error) {
	resp, err := c.Do(Request{
		Action: ActionRevoke,
		UID:    uid,
	})
	if err != nil {
		return 0, err
	}
	return resp.Revoked, nil
}
