// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records authorization decisions as an append-only
// sequence of CBOR records. Records are written into segment files
// named by the ULID minted when the segment opens, so lexicographic
// file order is chronological order; a segment rotates once it has
// absorbed a configured number of encoded bytes. Segments are
// optionally compressed as they are written.
//
// The journal is an audit trail, not a ledger the daemon depends on:
// enforcement never reads it back, and a decision is returned to the
// requester even if journaling it fails.
package journal

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ikeydoherty/polkit-no-script/lib/policy"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same decision always
// produces identical bytes, so segment content is reproducible.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored, so old readers can walk
// segments written by a newer daemon.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Verdicts implement encoding.TextMarshaler; encode them as CBOR
	// text strings so a record reads as "yes"/"auth_admin" rather than
	// an opaque integer.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Timestamps encode as RFC 3339 text. Segments outlive the daemon
	// that wrote them; text timestamps keep them self-describing.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("journal: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Map values decoded into any-typed targets become
		// map[string]any, which is what encoding/json and most Go code
		// expect. Struct field decoding is unaffected.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("journal: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using the journal's deterministic
// encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Compression selects the codec a segment is written through. The
// choice is recorded in the segment file name, so a directory may mix
// segments written under different configurations.
type Compression uint8

const (
	// CompressionNone writes raw CBOR.
	CompressionNone Compression = iota

	// CompressionLZ4 writes an LZ4 frame stream. Cheap enough that the
	// per-decision cost is negligible, at a modest ratio.
	CompressionLZ4

	// CompressionZstd writes a zstd stream at the default level. The
	// better ratio suits journals that are written once and kept.
	CompressionZstd
)

// String returns the configuration keyword for the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration keyword.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown journal compression %q", name)
	}
}

// suffix is appended to the segment file name after SegmentSuffix.
func (c Compression) suffix() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// Record is one journaled authorization decision.
type Record struct {
	// ID is the ULID minted for the decision. IDs from one writer are
	// strictly increasing, so they double as a sequence number.
	ID string `cbor:"id" json:"id"`

	// Time is when the decision was made.
	Time time.Time `cbor:"time" json:"time"`

	// ActionID is the action that was checked.
	ActionID string `cbor:"action_id" json:"action_id"`

	// UID and UserName identify the subject. Groups are the subject's
	// resolved group names at decision time.
	UID      uint32   `cbor:"uid" json:"uid"`
	UserName string   `cbor:"user,omitempty" json:"user,omitempty"`
	Groups   []string `cbor:"groups,omitempty" json:"groups,omitempty"`

	// Local and Active describe the subject's session at decision
	// time.
	Local  bool `cbor:"local" json:"local"`
	Active bool `cbor:"active" json:"active"`

	// Verdict is the effective verdict returned to the requester.
	Verdict policy.Verdict `cbor:"verdict" json:"verdict"`

	// Implicit is the pre-rule verdict the chain would have fallen
	// through to.
	Implicit policy.Verdict `cbor:"implicit" json:"implicit"`

	// Matched reports whether a rule decided the request; RuleID and
	// RulePath locate that rule.
	Matched  bool   `cbor:"matched" json:"matched"`
	RuleID   string `cbor:"rule_id,omitempty" json:"rule_id,omitempty"`
	RulePath string `cbor:"rule_path,omitempty" json:"rule_path,omitempty"`

	// Retained reports that the decision was served from a retained
	// authentication rather than the rule chain.
	Retained bool `cbor:"retained,omitempty" json:"retained,omitempty"`

	// Chain is the policy chain fingerprint in force at decision time,
	// tying the decision to the exact rule files that produced it.
	Chain string `cbor:"chain,omitempty" json:"chain,omitempty"`
}

// countingWriter counts bytes forwarded to the underlying writer. The
// count is taken before compression, so rotation thresholds behave the
// same under every codec.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
