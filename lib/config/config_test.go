// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ikeydoherty/polkit-no-script/lib/identity"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polkitd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RuleDirs[0] != "/etc/polkit-1/rules.d" {
		t.Errorf("first rule dir = %q, want the /etc directory", cfg.RuleDirs[0])
	}
	if got := cfg.AdminIdentities(); !reflect.DeepEqual(got, []identity.Identity{identity.User("root")}) {
		t.Errorf("default admins = %v, want [unix-user:root]", got)
	}
	if cfg.RetainedTTL() != 5*time.Minute {
		t.Errorf("retained TTL = %v, want 5m", cfg.RetainedTTL())
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("log level = %v, want info", cfg.SlogLevel())
	}
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
rule_dirs:
  - /srv/override/rules.d
privileged_group: sudo
log_level: debug
retained:
  ttl: 90s
  sweep_interval: 10s
watchdog:
  timeout: "0"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if !reflect.DeepEqual(cfg.RuleDirs, []string{"/srv/override/rules.d"}) {
		t.Errorf("rule dirs = %v", cfg.RuleDirs)
	}
	if cfg.PrivilegedGroup != "sudo" {
		t.Errorf("privileged group = %q", cfg.PrivilegedGroup)
	}
	// Untouched fields keep their defaults.
	if cfg.SocketPath != "/run/polkit/authority.sock" {
		t.Errorf("socket path = %q, want the default", cfg.SocketPath)
	}
	if cfg.RetainedTTL() != 90*time.Second {
		t.Errorf("retained TTL = %v, want 90s", cfg.RetainedTTL())
	}
	if cfg.WatchdogTimeout() != 0 {
		t.Errorf("watchdog timeout = %v, want disabled", cfg.WatchdogTimeout())
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("HOME", "/home/testuser")
	path := writeConfig(t, `
rule_dirs:
  - ${HOME}/rules.d
socket_path: ${RUNTIME_DIR:-/run/polkit}/authority.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.RuleDirs[0] != "/home/testuser/rules.d" {
		t.Errorf("rule dir = %q", cfg.RuleDirs[0])
	}
	// Unset variable falls back to the inline default.
	if cfg.SocketPath != "/run/polkit/authority.sock" {
		t.Errorf("socket path = %q", cfg.SocketPath)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "rule_dirs: [unclosed")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolve(t *testing.T) {
	path := writeConfig(t, "privileged_group: adm\n")

	// Explicit flag wins.
	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(flag): %v", err)
	}
	if cfg.PrivilegedGroup != "adm" {
		t.Errorf("flag path: privileged group = %q", cfg.PrivilegedGroup)
	}

	// Environment variable is the fallback.
	t.Setenv("POLKITD_CONFIG", path)
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve(env): %v", err)
	}
	if cfg.PrivilegedGroup != "adm" {
		t.Errorf("env path: privileged group = %q", cfg.PrivilegedGroup)
	}

	// Neither set: built-in defaults.
	t.Setenv("POLKITD_CONFIG", "")
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve(defaults): %v", err)
	}
	if cfg.PrivilegedGroup != "wheel" {
		t.Errorf("defaults: privileged group = %q", cfg.PrivilegedGroup)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.RuleDirs = nil
	cfg.SocketPath = ""
	cfg.LogLevel = "loud"
	cfg.DefaultAdmins = []string{"root"} // missing kind prefix
	cfg.Journal.Compression = "gzip"
	cfg.Retained.TTL = "five minutes"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"rule_dirs", "socket_path", "log_level", "default_admins",
		"journal.compression", "retained.ttl",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error should mention %s: %v", fragment, err)
		}
	}
}

func TestValidate_JournalDisabled(t *testing.T) {
	cfg := Default()
	cfg.Journal.Dir = ""
	cfg.Journal.MaxSegmentBytes = 0
	// Segment size is irrelevant when the journal is off.
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
