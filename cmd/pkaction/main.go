// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Pkaction lists the actions registered in the descriptor directories.
//
// Without arguments it prints every registered action id, one per
// line. With --action-id it prints the named action's descriptor, and
// --verbose prints the full descriptor for every action. The tool
// reads the descriptor files directly; no daemon is involved.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/ikeydoherty/polkit-no-script/lib/action"
	"github.com/ikeydoherty/polkit-no-script/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		actionID   string
		actionDirs []string
		verbose    bool
		asJSON     bool
	)

	flagSet := pflag.NewFlagSet("pkaction", pflag.ContinueOnError)
	flagSet.StringVar(&actionID, "action-id", "", "show only this action's descriptor")
	flagSet.StringArrayVar(&actionDirs, "actions-dir", nil, "action descriptor directory in precedence order (repeatable)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print full descriptors instead of just ids")
	flagSet.BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("pkaction")
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

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	// Parse diagnostics surface on stderr; a file nobody can parse is
	// exactly what someone listing actions wants to hear about.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	registry := action.NewRegistry(actionDirs, logger)

	if actionID != "" {
		desc, ok := registry.Lookup(actionID)
		if !ok {
			return fmt.Errorf("unknown action %q", actionID)
		}
		if asJSON {
			return encodeJSON(os.Stdout, desc)
		}
		printDescriptor(os.Stdout, desc)
		return nil
	}

	descriptors := registry.Actions()
	switch {
	case asJSON:
		return encodeJSON(os.Stdout, descriptors)
	case verbose:
		for i, desc := range descriptors {
			if i > 0 {
				fmt.Println()
			}
			printDescriptor(os.Stdout, desc)
		}
	default:
		for _, desc := range descriptors {
			fmt.Println(desc.ID)
		}
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printDescriptor writes one descriptor in the classic pkaction
// layout. The implicit verdicts shown are the effective ones: an
// absent keyword in the file means a denial.
func printDescriptor(w io.Writer, desc action.Descriptor) {
	fmt.Fprintf(w, "%s:\n", desc.ID)
	fmt.Fprintf(w, "  description:       %s\n", desc.Description)
	fmt.Fprintf(w, "  message:           %s\n", desc.Message)
	fmt.Fprintf(w, "  vendor:            %s\n", desc.Vendor)
	fmt.Fprintf(w, "  vendor url:        %s\n", desc.VendorURL)
	fmt.Fprintf(w, "  implicit any:      %s\n", desc.ImplicitFor(false, false))
	fmt.Fprintf(w, "  implicit inactive: %s\n", desc.ImplicitFor(true, false))
	fmt.Fprintf(w, "  implicit active:   %s\n", desc.ImplicitFor(true, true))
	fmt.Fprintf(w, "  file:              %s\n", desc.Path)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `List registered actions and their descriptors.

Reads the .action descriptor files from the action directories
(system defaults unless --actions-dir is given) and prints the
registered actions. Files that fail to parse are reported on stderr
and skipped, matching the daemon's fail-soft loading.

Usage:
  pkaction [flags]

Examples:
  # Every registered action id
  pkaction

  # One action in detail
  pkaction --action-id org.freedesktop.udisks2.filesystem-mount

  # Everything, as JSON, from a staged tree
  pkaction --actions-dir ./stage/actions.d --json

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
