// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Pkcheck checks whether a subject is authorized for an action.
//
// By default it asks the authority daemon over its unix socket, so the
// answer accounts for retained authentications and the policy the
// daemon actually has loaded. With --offline it compiles the on-disk
// policy itself and evaluates the check locally — no daemon required —
// which is how rule changes are vetted before they are deployed.
//
// The exit status is the answer: 0 when authorized, 1 when the verdict
// requires authentication (auth_self, auth_self_keep, auth_admin,
// auth_admin_keep), 2 when denied, 3 on errors.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/ikeydoherty/polkit-no-script/ipc"
	"github.com/ikeydoherty/polkit-no-script/lib/action"
	"github.com/ikeydoherty/polkit-no-script/lib/authority"
	"github.com/ikeydoherty/polkit-no-script/lib/identity"
	"github.com/ikeydoherty/polkit-no-script/lib/policy"
	"github.com/ikeydoherty/polkit-no-script/lib/version"
)

// exitCode signals the check outcome through the process exit status
// without printing anything: the verdict already went to stdout.
type exitCode int

func (e exitCode) Error() string { return "" }
func (e exitCode) ExitCode() int { return int(e) }

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			if message := err.Error(); message != "" {
				fmt.Fprintf(os.Stderr, "error: %s\n", message)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(3)
	}
}

func run() error {
	var (
		actionID   string
		uid        uint32
		socketPath string
		offline    bool
		ruleDirs   []string
		actionDirs []string
		local      bool
		active     bool
		asJSON     bool
	)

	flagSet := pflag.NewFlagSet("pkcheck", pflag.ContinueOnError)
	flagSet.StringVar(&actionID, "action-id", "", "action to check (may also be given as the positional argument)")
	flagSet.Uint32Var(&uid, "uid", 0, "subject uid to check for (default: the calling process)")
	flagSet.StringVar(&socketPath, "socket", ipc.DefaultSocketPath, "authority daemon socket")
	flagSet.BoolVar(&offline, "offline", false, "evaluate the on-disk policy directly instead of asking the daemon")
	flagSet.StringArrayVar(&ruleDirs, "rules-dir", nil, "rule directory in precedence order for --offline (repeatable)")
	flagSet.StringArrayVar(&actionDirs, "actions-dir", nil, "action descriptor directory in precedence order for --offline (repeatable)")
	flagSet.BoolVar(&local, "local", true, "treat the subject's session as local")
	flagSet.BoolVar(&active, "active", true, "treat the subject's session as active")
	flagSet.BoolVar(&asJSON, "json", false, "print the full check result as JSON")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("pkcheck")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	switch {
	case len(args) == 1 && actionID == "":
		actionID = args[0]
	case len(args) > 0:
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if actionID == "" {
		return fmt.Errorf("an action id is required, via --action-id or as the argument")
	}

	// Only a uid the caller actually passed travels on the wire: the
	// daemon fills in the peer credential otherwise.
	var uidArg *uint32
	if flagSet.Changed("uid") {
		uidArg = &uid
	}

	var check ipc.CheckResult
	var err error
	if offline {
		check, err = offlineCheck(actionID, uidArg, local, active, ruleDirs, actionDirs)
	} else {
		client := ipc.NewClient(socketPath)
		check, err = client.CheckAuthorization(actionID, uidArg, &local, &active)
	}
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(check); err != nil {
			return err
		}
	} else {
		fmt.Println(check.Verdict)
	}

	return outcome(check)
}

// outcome converts a check result to the exit discipline: nil when
// authorized, exit 1 when authentication would satisfy the verdict,
// exit 2 for a denial.
func outcome(check ipc.CheckResult) error {
	switch {
	case check.Authorized:
		return nil
	case check.Verdict.RequiresAuthentication():
		return exitCode(1)
	default:
		return exitCode(2)
	}
}

// offlineCheck compiles the policy from disk and evaluates the check
// in-process. Retained authentications live in the daemon, so offline
// answers never credit them; an offline yes means the rules alone
// grant the action.
func offlineCheck(actionID string, uidArg *uint32, local, active bool, ruleDirs, actionDirs []string) (ipc.CheckResult, error) {
	// Load diagnostics go to stderr at warn level: a broken rule file
	// is worth seeing when vetting policy, the load chatter is not.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	uid := uint32(os.Getuid())
	if uidArg != nil {
		uid = *uidArg
	}
	subject, err := identity.NewSubject(identity.UnixDirectory{}, uid, local, active)
	if err != nil {
		return ipc.CheckResult{}, fmt.Errorf("resolving subject: %w", err)
	}

	auth := authority.New(authority.Options{RuleDirs: ruleDirs, Logger: logger})
	registry := action.NewRegistry(actionDirs, logger)

	implicit := registry.ImplicitFor(actionID, subject.Local, subject.Active)
	result := auth.Check(subject, actionID, implicit)
	return ipc.CheckResult{
		Verdict:    result.Verdict,
		Authorized: result.Verdict == policy.Yes,
		Implicit:   implicit,
		Matched:    result.Matched,
		RuleID:     result.RuleID,
		RulePath:   result.RulePath,
	}, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Check whether a subject is authorized for an action.

Asks the authority daemon by default; --offline compiles the rule and
action directories in-process and answers without a daemon. The
subject defaults to the calling process and a local, active session.

The exit status carries the verdict: 0 authorized, 1 authentication
required, 2 denied, 3 error.

Usage:
  pkcheck [flags] [action-id]

Examples:
  # Ask the daemon about an action for the calling process
  pkcheck org.freedesktop.udisks2.filesystem-mount

  # Vet a staged rule tree without a daemon
  pkcheck --offline --rules-dir ./stage/rules.d --action-id org.example.power-off

  # Check how a background session would fare, as JSON
  pkcheck --active=false --json org.example.power-off

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
