// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package action maintains the registry of known privileged actions.
// Vendors describe their actions in .action files (JSON with comments
// and trailing commas); each descriptor names the action and the
// implicit verdicts that apply before any rule matches, keyed by the
// subject's session state. The rule chain can override an implicit
// verdict; the registry supplies the fallback when it does not.
package action

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/jsonc"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// DescriptorSuffix is the file name suffix that marks an action
// descriptor file.
const DescriptorSuffix = ".action"

// DefaultActionDirs returns the system descriptor directories,
// highest precedence first, mirroring the rule directory layout.
func DefaultActionDirs() []string {
	return []string{
		"/etc/polkit-1/actions.d",
		"/usr/share/polkit-1/actions.d",
	}
}

// Implicit holds the pre-rule verdicts of an action, keyed by the
// subject's session state. An absent keyword means no: vendors must
// opt in to anything weaker than a denial.
type Implicit struct {
	// Any applies to subjects in any session, in particular remote
	// ones.
	Any policy.Verdict `json:"any"`

	// Inactive applies to subjects in a local but background session.
	Inactive policy.Verdict `json:"inactive"`

	// Active applies to subjects in a local foreground session.
	Active policy.Verdict `json:"active"`
}

// Descriptor describes one privileged action.
type Descriptor struct {
	// ID is the reverse-domain action identifier
	// (e.g. "org.example.power-off").
	ID string `json:"id"`

	// Description is the one-line human-readable action summary.
	Description string `json:"description,omitempty"`

	// Message is shown by authentication agents when prompting.
	Message string `json:"message,omitempty"`

	// Vendor and VendorURL identify who ships the action. File-level
	// values apply to every action in the file unless overridden.
	Vendor    string `json:"vendor,omitempty"`
	VendorURL string `json:"vendor_url,omitempty"`

	// Implicit are the pre-rule verdicts.
	Implicit Implicit `json:"implicit"`

	// Path is the descriptor file the action was loaded from.
	Path string `json:"-"`
}

// ImplicitFor selects the implicit verdict for a subject's session
// state: Active for a local foreground session, Inactive for a local
// background one, Any otherwise. An unset selection is a denial.
func (d Descriptor) ImplicitFor(local, active bool) policy.Verdict {
	verdict := d.Implicit.Any
	switch {
	case local && active:
		verdict = d.Implicit.Active
	case local:
		verdict = d.Implicit.Inactive
	}
	if verdict == policy.Unset {
		return policy.No
	}
	return verdict
}

// descriptorFile is the on-disk shape of one .action file.
type descriptorFile struct {
	Vendor    string       `json:"vendor"`
	VendorURL string       `json:"vendor_url"`
	Actions   []Descriptor `json:"actions"`
}

// ParseFile reads and parses one descriptor file.
func ParseFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses descriptor file content. Parsing is all-or-nothing: a
// missing action id, a duplicated id, or an unknown verdict keyword
// fails the whole file.
func Parse(path string, data []byte) ([]Descriptor, error) {
	var file descriptorFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Actions))
	out := make([]Descriptor, 0, len(file.Actions))
	for _, desc := range file.Actions {
		if desc.ID == "" {
			return nil, fmt.Errorf("descriptor with empty action id")
		}
		if _, dup := seen[desc.ID]; dup {
			return nil, fmt.Errorf("action %q declared twice", desc.ID)
		}
		seen[desc.ID] = struct{}{}

		if desc.Vendor == "" {
			desc.Vendor = file.Vendor
		}
		if desc.VendorURL == "" {
			desc.VendorURL = file.VendorURL
		}
		desc.Path = path
		out = append(out, desc)
	}
	return out, nil
}

// catalog is one compiled registry snapshot. Snapshots are immutable;
// Reload builds a fresh one and swaps it in.
type catalog struct {
	byID       map[string]Descriptor
	ordered    []Descriptor
	fileErrors map[string]string
}

// Registry resolves action identifiers to descriptors. Lookups read
// an immutable snapshot through an atomic pointer, so they are safe
// against a concurrent Reload; reloads themselves are serialized.
type Registry struct {
	dirs   []string
	logger *slog.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[catalog]
}

// NewRegistry builds a Registry over the descriptor directories and
// performs the initial load. Like the rule chain, loading is
// fail-soft: unreadable directories and malformed files are logged
// and skipped, and an empty registry simply denies unknown actions.
func NewRegistry(dirs []string, logger *slog.Logger) *Registry {
	if len(dirs) == 0 {
		dirs = DefaultActionDirs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dirs: dirs, logger: logger}
	r.Reload()
	return r
}

// Reload rebuilds the registry from the descriptor directories. When
// two files declare the same action id, the first in directory
// precedence order wins and the duplicate is logged.
func (r *Registry) Reload() {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	c := &catalog{
		byID:       make(map[string]Descriptor),
		fileErrors: make(map[string]string),
	}
	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("cannot list action directory", "dir", dir, "error", err)
			}
			continue
		}
		// ReadDir sorts by name, giving deterministic order within a
		// directory.
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, DescriptorSuffix) {
				continue
			}
			path := filepath.Join(dir, name)
			descriptors, err := ParseFile(path)
			if err != nil {
				r.logger.Warn("cannot parse action descriptor", "path", path, "error", err)
				c.fileErrors[path] = err.Error()
				continue
			}
			for _, desc := range descriptors {
				if existing, dup := c.byID[desc.ID]; dup {
					r.logger.Warn("duplicate action id, keeping the first",
						"action_id", desc.ID,
						"kept", existing.Path,
						"ignored", desc.Path,
					)
					continue
				}
				c.byID[desc.ID] = desc
			}
		}
	}

	c.ordered = make([]Descriptor, 0, len(c.byID))
	for _, desc := range c.byID {
		c.ordered = append(c.ordered, desc)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].ID < c.ordered[j].ID
	})

	r.current.Store(c)
	r.logger.Info("action registry loaded",
		"actions", len(c.ordered),
		"file_errors", len(c.fileErrors),
	)
}

// Lookup returns the descriptor for an action id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	desc, ok := r.current.Load().byID[id]
	return desc, ok
}

// ImplicitFor returns the implicit verdict for an action given the
// subject's session state. An unregistered action is denied: rules
// may still allow it, but nothing is implicitly granted for actions
// nobody declared.
func (r *Registry) ImplicitFor(actionID string, local, active bool) policy.Verdict {
	desc, ok := r.Lookup(actionID)
	if !ok {
		return policy.No
	}
	return desc.ImplicitFor(local, active)
}

// Actions returns every registered descriptor, sorted by id.
func (r *Registry) Actions() []Descriptor {
	return r.current.Load().ordered
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	return len(r.current.Load().ordered)
}

// FileErrors maps each descriptor file that failed to load in the
// last reload to its diagnostic.
func (r *Registry) FileErrors() map[string]string {
	return r.current.Load().fileErrors
}
