// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ikeydoherty/polkit-no-script/lib/clock"
	"github.com/ikeydoherty/polkit-no-script/lib/journal"
	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

var epoch = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

// writeSegment fills one journal segment in dir and returns its path.
func writeSegment(t *testing.T, dir string, compression journal.Compression) string {
	t.Helper()

	writer, err := journal.Open(journal.Options{
		Dir:         dir,
		Compression: compression,
		Clock:       clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	records := []journal.Record{
		{ActionID: "org.test.mount", UID: 1000, UserName: "alice", Verdict: policy.Yes, Matched: true, RuleID: "Disks"},
		{ActionID: "org.test.mount", UID: 1001, UserName: "bob", Verdict: policy.AuthAdmin},
		{ActionID: "org.test.power-off", UID: 1000, UserName: "alice", Verdict: policy.AuthAdminKeep, Retained: true},
	}
	for _, record := range records {
		if _, err := writer.Append(record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	segment := writer.CurrentSegment()
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return segment
}

func dump(t *testing.T, segment string, filter recordFilter, asJSON bool) string {
	t.Helper()
	var out strings.Builder
	if err := dumpSegment(&out, segment, filter, asJSON); err != nil {
		t.Fatalf("dumpSegment: %v", err)
	}
	return out.String()
}

func TestDumpSegment(t *testing.T) {
	segment := writeSegment(t, t.TempDir(), journal.CompressionZstd)

	out := dump(t, segment, recordFilter{}, false)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "yes org.test.mount uid=1000 user=alice rule=Disks") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[2], "retained") {
		t.Errorf("line 2 = %q, want the retained marker", lines[2])
	}
}

func TestDumpSegment_Filters(t *testing.T) {
	segment := writeSegment(t, t.TempDir(), journal.CompressionNone)

	out := dump(t, segment, recordFilter{actionID: "org.test.mount"}, false)
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("action filter: %d records, want 2:\n%s", got, out)
	}

	uid := uint32(1000)
	out = dump(t, segment, recordFilter{uid: &uid}, false)
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("uid filter: %d records, want 2:\n%s", got, out)
	}

	out = dump(t, segment, recordFilter{actionID: "org.test.power-off", uid: &uid}, false)
	if got := strings.Count(out, "\n"); got != 1 {
		t.Errorf("combined filter: %d records, want 1:\n%s", got, out)
	}
}

func TestDumpSegment_JSON(t *testing.T) {
	segment := writeSegment(t, t.TempDir(), journal.CompressionLZ4)

	out := dump(t, segment, recordFilter{}, true)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	var record journal.Record
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if record.ActionID != "org.test.mount" || record.Verdict != policy.Yes {
		t.Errorf("record = %+v", record)
	}
}

func TestDumpSegment_TruncatedTail(t *testing.T) {
	dir := t.TempDir()
	segment := writeSegment(t, dir, journal.CompressionNone)

	// Chop into the last record, as a crashed writer would.
	data, err := os.ReadFile(segment)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(segment, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}

	out := dump(t, segment, recordFilter{}, false)
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("got %d intact records, want 2:\n%s", got, out)
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	segment := writeSegment(t, dir, journal.CompressionZstd)

	segments, err := expandPaths([]string{dir})
	if err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	if len(segments) != 1 || segments[0] != segment {
		t.Errorf("segments = %v, want [%s]", segments, segment)
	}

	segments, err = expandPaths([]string{segment})
	if err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	if len(segments) != 1 || segments[0] != segment {
		t.Errorf("file argument: segments = %v, want [%s]", segments, segment)
	}

	if _, err := expandPaths([]string{dir + "/missing"}); err == nil {
		t.Error("missing path resolved without error")
	}
}
