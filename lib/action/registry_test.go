// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeDescriptor writes one .action file into dir and returns its path.
func writeDescriptor(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const powerDescriptor = `{
	// Power management actions.
	"vendor": "Example OS",
	"vendor_url": "https://example.org",
	"actions": [
		{
			"id": "org.example.power-off",
			"description": "Power off the system",
			"message": "Authentication is required to power off the system",
			"implicit": {
				"any": "auth_admin",
				"inactive": "auth_admin",
				"active": "yes",
			},
		},
		{
			"id": "org.example.reboot",
			"description": "Reboot the system",
			"implicit": {
				"active": "auth_self_keep",
			},
		},
	],
}
`

func TestParse_DescriptorFile(t *testing.T) {
	descriptors, err := Parse("power.action", []byte(powerDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(descriptors))
	}

	off := descriptors[0]
	if off.ID != "org.example.power-off" {
		t.Errorf("id = %q", off.ID)
	}
	if off.Vendor != "Example OS" || off.VendorURL != "https://example.org" {
		t.Errorf("vendor fields not inherited: %q %q", off.Vendor, off.VendorURL)
	}
	if off.Implicit.Active != policy.Yes || off.Implicit.Any != policy.AuthAdmin {
		t.Errorf("implicit verdicts = %+v", off.Implicit)
	}

	// The second action left "any" and "inactive" unset.
	reboot := descriptors[1]
	if reboot.Implicit.Any != policy.Unset || reboot.Implicit.Active != policy.AuthSelfKeep {
		t.Errorf("implicit verdicts = %+v", reboot.Implicit)
	}
}

func TestParse_Failures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty id", `{"actions": [{"description": "no id"}]}`},
		{"duplicate id", `{"actions": [{"id": "a.b"}, {"id": "a.b"}]}`},
		{"unknown verdict", `{"actions": [{"id": "a.b", "implicit": {"any": "maybe"}}]}`},
		{"not json", `[Policy]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse("x.action", []byte(tc.content)); err == nil {
				t.Error("Parse succeeded, want error")
			}
		})
	}
}

func TestImplicitFor_SessionSelection(t *testing.T) {
	desc := Descriptor{
		ID: "org.example.power-off",
		Implicit: Implicit{
			Any:      policy.No,
			Inactive: policy.AuthAdmin,
			Active:   policy.Yes,
		},
	}

	cases := []struct {
		local, active bool
		want          policy.Verdict
	}{
		{true, true, policy.Yes},
		{true, false, policy.AuthAdmin},
		{false, false, policy.No},
		{false, true, policy.No}, // active without local is still remote
	}
	for _, tc := range cases {
		if got := desc.ImplicitFor(tc.local, tc.active); got != tc.want {
			t.Errorf("ImplicitFor(%v, %v) = %v, want %v", tc.local, tc.active, got, tc.want)
		}
	}
}

func TestImplicitFor_UnsetIsDenied(t *testing.T) {
	desc := Descriptor{ID: "org.example.reboot", Implicit: Implicit{Active: policy.Yes}}
	if got := desc.ImplicitFor(false, false); got != policy.No {
		t.Errorf("unset any verdict = %v, want no", got)
	}
	if got := desc.ImplicitFor(true, true); got != policy.Yes {
		t.Errorf("active verdict = %v, want yes", got)
	}
}

func TestRegistry_LookupAndOrder(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "power.action", powerDescriptor)
	writeDescriptor(t, dir, "disk.action", `{
	"actions": [{"id": "org.example.mount", "implicit": {"active": "yes"}}],
}
`)

	r := NewRegistry([]string{dir}, testLogger())
	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}

	desc, ok := r.Lookup("org.example.power-off")
	if !ok || desc.Description != "Power off the system" {
		t.Errorf("Lookup = %+v %v", desc, ok)
	}
	if _, ok := r.Lookup("org.example.unknown"); ok {
		t.Error("Lookup of unregistered action succeeded")
	}

	var ids []string
	for _, d := range r.Actions() {
		ids = append(ids, d.ID)
	}
	want := []string{"org.example.mount", "org.example.power-off", "org.example.reboot"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestRegistry_PrecedenceAcrossDirectories(t *testing.T) {
	etc := t.TempDir()
	usr := t.TempDir()
	writeDescriptor(t, etc, "power.action", `{
	"actions": [{"id": "org.example.power-off", "description": "etc copy"}],
}
`)
	writeDescriptor(t, usr, "power.action", `{
	"actions": [{"id": "org.example.power-off", "description": "usr copy"}],
}
`)

	r := NewRegistry([]string{etc, usr}, testLogger())
	desc, ok := r.Lookup("org.example.power-off")
	if !ok || desc.Description != "etc copy" {
		t.Errorf("got %+v, want the higher precedence directory's copy", desc)
	}
}

func TestRegistry_FailSoft(t *testing.T) {
	dir := t.TempDir()
	bad := writeDescriptor(t, dir, "broken.action", `{"actions": [{"id": ""}]}`)
	writeDescriptor(t, dir, "good.action", `{
	"actions": [{"id": "org.example.mount"}],
}
`)

	r := NewRegistry([]string{dir, filepath.Join(dir, "missing")}, testLogger())
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1 from the well-formed file", r.Count())
	}
	if _, ok := r.FileErrors()[bad]; !ok {
		t.Errorf("FileErrors = %v, want an entry for %s", r.FileErrors(), bad)
	}
}

func TestRegistry_UnknownActionDenied(t *testing.T) {
	r := NewRegistry([]string{t.TempDir()}, testLogger())
	if got := r.ImplicitFor("org.example.unknown", true, true); got != policy.No {
		t.Errorf("implicit = %v, want no for unregistered action", got)
	}
}

func TestRegistry_ReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "power.action", `{
	"actions": [{"id": "org.example.power-off", "implicit": {"active": "auth_admin"}}],
}
`)
	r := NewRegistry([]string{dir}, testLogger())
	if got := r.ImplicitFor("org.example.power-off", true, true); got != policy.AuthAdmin {
		t.Fatalf("initial implicit = %v, want auth_admin", got)
	}

	writeDescriptor(t, dir, "power.action", `{
	"actions": [{"id": "org.example.power-off", "implicit": {"active": "yes"}}],
}
`)
	r.Reload()
	if got := r.ImplicitFor("org.example.power-off", true, true); got != policy.Yes {
		t.Errorf("implicit after reload = %v, want yes", got)
	}
}

func TestRegistry_IgnoresOtherSuffixes(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "notes.txt", "not a descriptor")
	writeDescriptor(t, dir, "power.action", `{
	"actions": [{"id": "org.example.power-off"}],
}
`)
	r := NewRegistry([]string{dir}, testLogger())
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
	if len(r.FileErrors()) != 0 {
		t.Errorf("FileErrors = %v, want none", r.FileErrors())
	}
}

func TestDefaultActionDirs(t *testing.T) {
	dirs := DefaultActionDirs()
	if len(dirs) != 2 || dirs[0] != "/etc/polkit-1/actions.d" {
		t.Errorf("dirs = %v", dirs)
	}
}
