// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Pkjournal dumps authorization decision journals.
//
// Arguments are segment files or directories of segments; the
// default is the daemon's standard journal directory. Compressed
// segments are decompressed transparently. Records print oldest
// first: segment names sort chronologically and records within a
// segment are appended in order.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ikeydoherty/polkit-no-script/lib/journal"
	"github.com/ikeydoherty/polkit-no-script/lib/version"
)

// defaultJournalDir matches the daemon's default journal location.
const defaultJournalDir = "/var/log/polkit-1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		actionID string
		uid      uint32
		asJSON   bool
	)

	flagSet := pflag.NewFlagSet("pkjournal", pflag.ContinueOnError)
	flagSet.StringVar(&actionID, "action-id", "", "only print decisions for this action")
	flagSet.Uint32Var(&uid, "uid", 0, "only print decisions for this subject uid")
	flagSet.BoolVar(&asJSON, "json", false, "print records as JSON, one per line")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("pkjournal")
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

	filter := recordFilter{actionID: actionID}
	if flagSet.Changed("uid") {
		filter.uid = &uid
	}

	paths := flagSet.Args()
	if len(paths) == 0 {
		paths = []string{defaultJournalDir}
	}

	segments, err := expandPaths(paths)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("no journal segments found")
	}

	for _, segment := range segments {
		if err := dumpSegment(os.Stdout, segment, filter, asJSON); err != nil {
			return err
		}
	}
	return nil
}

// expandPaths resolves the argument list to segment files: directories
// expand to their segments in name order, which is chronological.
func expandPaths(paths []string) ([]string, error) {
	var segments []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			segments = append(segments, path)
			continue
		}
		found, err := journal.Segments(path)
		if err != nil {
			return nil, err
		}
		segments = append(segments, found...)
	}
	return segments, nil
}

// recordFilter selects which decisions to print.
type recordFilter struct {
	actionID string
	uid      *uint32
}

func (f recordFilter) match(record journal.Record) bool {
	if f.actionID != "" && record.ActionID != f.actionID {
		return false
	}
	if f.uid != nil && record.UID != *f.uid {
		return false
	}
	return true
}

// dumpSegment streams one segment to w. A truncated tail — a record
// cut off by a crash or a live writer — prints everything intact and
// reports the cut on stderr instead of failing the dump.
func dumpSegment(w io.Writer, path string, filter recordFilter, asJSON bool) error {
	reader, err := journal.OpenSegment(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	encoder := json.NewEncoder(w)
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			fmt.Fprintf(os.Stderr, "warning: %s: truncated record at the tail\n", path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !filter.match(record) {
			continue
		}
		if asJSON {
			if err := encoder.Encode(record); err != nil {
				return err
			}
			continue
		}
		printRecord(w, record)
	}
}

// printRecord writes the one-line human rendering of a decision.
func printRecord(w io.Writer, record journal.Record) {
	fmt.Fprintf(w, "%s %s %s uid=%d user=%s",
		record.Time.UTC().Format(time.RFC3339),
		record.Verdict,
		record.ActionID,
		record.UID,
		record.UserName,
	)
	if record.Matched {
		fmt.Fprintf(w, " rule=%s", record.RuleID)
	}
	if record.Retained {
		fmt.Fprint(w, " retained")
	}
	fmt.Fprintln(w)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Dump authorization decision journals.

Arguments are segment files or directories of segments; with none the
standard journal directory is read. Compressed segments (.zst, .lz4)
are decompressed transparently. Records print oldest first.

Usage:
  pkjournal [flags] [path ...]

Examples:
  # Everything the local daemon has journaled
  pkjournal

  # One subject's decisions across an archived directory
  pkjournal --uid 1000 /srv/archive/polkit-1

  # Machine-readable dump of a single segment
  pkjournal --json /var/log/polkit-1/01JF8PZJW40EXAMPLE.journal.zst

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
