// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/ikeydoherty/polkit-no-script/lib/identity"
	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeRules writes one rule file into dir and returns its path.
func writeRules(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func wheelSubject() identity.Subject {
	return identity.Subject{
		UID:      1000,
		UserName: "alice",
		Groups:   []string{"users", "wheel"},
		Local:    true,
		Active:   true,
	}
}

func usersSubject() identity.Subject {
	return identity.Subject{
		UID:      1001,
		UserName: "bob",
		Groups:   []string{"users"},
		Local:    true,
		Active:   true,
	}
}

func TestCheck_WheelScenario(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-admin.keyrules", `[Policy]
Rules=R1

[R1]
InUnixGroups=wheel
Result=auth_admin
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})

	got := a.Check(wheelSubject(), "x", policy.No)
	if got.Verdict != policy.AuthAdmin {
		t.Errorf("wheel member: verdict = %v, want %v", got.Verdict, policy.AuthAdmin)
	}
	if !got.Matched || got.RuleID != "R1" {
		t.Errorf("wheel member: matched = %v rule = %q, want R1", got.Matched, got.RuleID)
	}

	// A subject outside wheel falls through to the implicit default.
	got = a.Check(usersSubject(), "x", policy.No)
	if got.Verdict != policy.No || got.Matched {
		t.Errorf("non-member: got %+v, want implicit no with no match", got)
	}
}

func TestCheck_FirstMatchWins(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-order.keyrules", `[Policy]
Rules=First;Second

[First]
InUnixGroups=wheel
Result=yes

[Second]
InUnixGroups=wheel
Result=no
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})

	got := a.Check(wheelSubject(), "x", policy.AuthSelf)
	if got.Verdict != policy.Yes {
		t.Errorf("verdict = %v, want yes from the first satisfied rule", got.Verdict)
	}
	if got.RuleID != "First" {
		t.Errorf("rule = %q, want First", got.RuleID)
	}
}

func TestCheck_DirectoryPrecedence(t *testing.T) {
	etc := t.TempDir()
	usr := t.TempDir()
	// Same base name, conflicting verdicts.
	writeRules(t, etc, "50-power.keyrules", `[Policy]
Rules=R

[R]
Actions=org.example.power-off
Result=no
`)
	writeRules(t, usr, "50-power.keyrules", `[Policy]
Rules=R

[R]
Actions=org.example.power-off
Result=yes
`)

	a := New(Options{RuleDirs: []string{etc, usr}, Logger: testLogger()})
	if got := a.Evaluate(wheelSubject(), "org.example.power-off", policy.AuthSelf); got != policy.No {
		t.Errorf("verdict = %v, want the earlier directory's no", got)
	}

	// Reversing the configured order flips the winner.
	a = New(Options{RuleDirs: []string{usr, etc}, Logger: testLogger()})
	if got := a.Evaluate(wheelSubject(), "org.example.power-off", policy.AuthSelf); got != policy.Yes {
		t.Errorf("verdict = %v, want the earlier directory's yes", got)
	}
}

func TestCheck_BaseNameOrdersAcrossDirectories(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	// The lower-sorting base name lives in the LATER directory; base
	// name still decides evaluation order.
	writeRules(t, second, "10-early.keyrules", `[Policy]
Rules=R

[R]
Result=no
`)
	writeRules(t, first, "20-late.keyrules", `[Policy]
Rules=R

[R]
Result=yes
`)

	a := New(Options{RuleDirs: []string{first, second}, Logger: testLogger()})
	if got := a.Evaluate(wheelSubject(), "x", policy.AuthSelf); got != policy.No {
		t.Errorf("verdict = %v, want no from 10-early.keyrules", got)
	}
	status := a.Status()
	wantOrder := []string{
		filepath.Join(second, "10-early.keyrules"),
		filepath.Join(first, "20-late.keyrules"),
	}
	if !reflect.DeepEqual(status.Files, wantOrder) {
		t.Errorf("file order = %v, want %v", status.Files, wantOrder)
	}
}

func TestCheck_EmptyChainYieldsImplicit(t *testing.T) {
	a := New(Options{RuleDirs: []string{t.TempDir()}, Logger: testLogger()})
	got := a.Check(wheelSubject(), "x", policy.AuthAdminKeep)
	if got.Verdict != policy.AuthAdminKeep || got.Matched {
		t.Errorf("got %+v, want the implicit default and no match", got)
	}
}

func TestCheck_MissingDirectoryIsNotFatal(t *testing.T) {
	real := t.TempDir()
	writeRules(t, real, "10-a.keyrules", `[Policy]
Rules=R

[R]
Result=yes
`)
	a := New(Options{
		RuleDirs: []string{filepath.Join(real, "does-not-exist"), real},
		Logger:   testLogger(),
	})
	if got := a.Evaluate(wheelSubject(), "x", policy.No); got != policy.Yes {
		t.Errorf("verdict = %v, want yes", got)
	}
}

func TestReload_FailSoft(t *testing.T) {
	dir := t.TempDir()
	bad := writeRules(t, dir, "10-broken.keyrules", `[Policy]
Rules=Missing
`)
	writeRules(t, dir, "20-good.keyrules", `[Policy]
Rules=R

[R]
Result=yes
`)

	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})
	if got := a.Evaluate(wheelSubject(), "x", policy.No); got != policy.Yes {
		t.Errorf("verdict = %v, want yes from the well-formed file", got)
	}

	status := a.Status()
	if len(status.Files) != 1 {
		t.Errorf("loaded files = %v, want just the well-formed one", status.Files)
	}
	if _, ok := status.FileErrors[bad]; !ok {
		t.Errorf("FileErrors = %v, want an entry for %s", status.FileErrors, bad)
	}
}

func TestReload_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
Rules=R

[R]
Result=no
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})
	if got := a.Evaluate(wheelSubject(), "x", policy.AuthSelf); got != policy.No {
		t.Fatalf("initial verdict = %v, want no", got)
	}

	writeRules(t, dir, "10-a.keyrules", `[Policy]
Rules=R

[R]
Result=yes
`)
	a.Reload()
	if got := a.Evaluate(wheelSubject(), "x", policy.AuthSelf); got != policy.Yes {
		t.Errorf("verdict after reload = %v, want yes", got)
	}
}

func TestReload_FingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
Rules=R

[R]
Result=no
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})
	before := a.Status().Fingerprint
	if before == "" {
		t.Fatal("fingerprint is empty")
	}

	// Reloading unchanged content keeps the fingerprint.
	a.Reload()
	if got := a.Status().Fingerprint; got != before {
		t.Errorf("fingerprint changed across identical reloads: %s != %s", got, before)
	}

	writeRules(t, dir, "10-a.keyrules", `[Policy]
Rules=R

[R]
Result=yes
`)
	a.Reload()
	if got := a.Status().Fingerprint; got == before {
		t.Error("fingerprint did not change with content")
	}
}

func TestReload_ConcurrentChecksSeeWholeChains(t *testing.T) {
	dir := t.TempDir()
	yes := `[Policy]
Rules=R

[R]
Result=yes
`
	no := `[Policy]
Rules=R

[R]
Result=no
`
	writeRules(t, dir, "10-a.keyrules", yes)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Every observation must be one of the two complete
				// chains: the implicit auth_self would mean a check
				// saw a chain with the file missing or half-built.
				got := a.Evaluate(wheelSubject(), "x", policy.AuthSelf)
				if got != policy.Yes && got != policy.No {
					t.Errorf("observed verdict %v during reload churn", got)
					return
				}
			}
		}()
	}

	for i := range 50 {
		if i%2 == 0 {
			writeRules(t, dir, "10-a.keyrules", no)
		} else {
			writeRules(t, dir, "10-a.keyrules", yes)
		}
		a.Reload()
	}
	close(stop)
	wg.Wait()
}

func TestAdminIdentities_Additive(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
AdminRules=A

[A]
InUserNames=root
`)
	writeRules(t, dir, "20-b.keyrules", `[Policy]
AdminRules=B

[B]
InUnixGroups=wheel;adm
`)

	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})
	got := a.AdminIdentities(wheelSubject(), "x")
	want := []identity.Identity{
		identity.User("root"),
		identity.Group("wheel"),
		identity.Group("adm"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("admins = %v, want %v", got, want)
	}
}

func TestAdminIdentities_DuplicatesDropped(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
AdminRules=A;B

[A]
InUnixGroups=wheel

[B]
InUnixGroups=wheel
InUserNames=root
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})
	got := a.AdminIdentities(wheelSubject(), "x")
	want := []identity.Identity{
		identity.Group("wheel"),
		identity.User("root"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("admins = %v, want %v (first occurrence wins)", got, want)
	}
}

func TestAdminIdentities_ConstraintsFilter(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
AdminRules=Scoped

[Scoped]
Actions=org.example.special
InUserNames=operator
`)
	a := New(Options{RuleDirs: []string{dir}, Logger: testLogger()})

	got := a.AdminIdentities(wheelSubject(), "org.example.special")
	want := []identity.Identity{identity.User("operator")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matching action: admins = %v, want %v", got, want)
	}

	// A non-matching action leaves the rule unsatisfied; resolution
	// falls back to the default administrators.
	got = a.AdminIdentities(wheelSubject(), "org.example.other")
	want = []identity.Identity{identity.User("root")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("other action: admins = %v, want fallback %v", got, want)
	}
}

func TestAdminIdentities_ConfiguredFallback(t *testing.T) {
	a := New(Options{
		RuleDirs:      []string{t.TempDir()},
		DefaultAdmins: []identity.Identity{identity.Group("sudo")},
		Logger:        testLogger(),
	})
	got := a.AdminIdentities(wheelSubject(), "x")
	want := []identity.Identity{identity.Group("sudo")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("admins = %v, want %v", got, want)
	}
}

func TestSubscribe_NotifiedAfterReload(t *testing.T) {
	a := New(Options{RuleDirs: []string{t.TempDir()}, Logger: testLogger()})

	notified := make(chan struct{}, 8)
	a.Subscribe("test", func() { notified <- struct{}{} })

	a.Reload()
	select {
	case <-notified:
	default:
		t.Fatal("subscriber not notified by reload")
	}

	a.Unsubscribe("test")
	a.Reload()
	select {
	case <-notified:
		t.Fatal("unsubscribed callback still notified")
	default:
	}
}

func TestPrivilegedGroupOption(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "10-a.keyrules", `[Policy]
Rules=R

[R]
InUnixGroups=%wheel%
Result=yes
`)
	a := New(Options{
		RuleDirs:        []string{dir},
		PrivilegedGroup: "users",
		Logger:          testLogger(),
	})
	// With the token bound to "users", bob qualifies.
	if got := a.Evaluate(usersSubject(), "x", policy.No); got != policy.Yes {
		t.Errorf("verdict = %v, want yes via substituted group", got)
	}
}

func TestDefaultRuleDirs(t *testing.T) {
	dirs := DefaultRuleDirs()
	if len(dirs) != 2 {
		t.Fatalf("got %d default directories, want 2", len(dirs))
	}
	if dirs[0] != "/etc/polkit-1/rules.d" {
		t.Errorf("highest precedence dir = %q", dirs[0])
	}
}
