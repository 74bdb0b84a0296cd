// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/ikeydoherty/polkit-no-script/lib/clock"
)

// SegmentSuffix marks journal segment files. Compressed segments add
// the codec suffix after it, e.g. ".journal.zst".
const SegmentSuffix = ".journal"

// DefaultMaxSegmentBytes is the rotation threshold when Options does
// not set one.
const DefaultMaxSegmentBytes = 4 << 20

// ErrClosed is returned by operations on a closed Writer.
var ErrClosed = errors.New("journal: writer is closed")

// Options configures a Writer.
type Options struct {
	// Dir is the directory segments are written into. It is created
	// if missing.
	Dir string

	// MaxSegmentBytes rotates the open segment once this many encoded
	// bytes have been appended. The count is taken before compression.
	// Zero means DefaultMaxSegmentBytes.
	MaxSegmentBytes int64

	// Compression selects the segment codec.
	Compression Compression

	// Clock stamps records and segment names. Nil means the real
	// clock.
	Clock clock.Clock
}

// Writer appends decision records to the journal. It is safe for
// concurrent use; appends are serialized so records land in ID order.
type Writer struct {
	dir         string
	maxBytes    int64
	compression Compression
	clk         clock.Clock

	mu      sync.Mutex
	entropy io.Reader // monotonic ULID entropy, guarded by mu
	file    *os.File
	counter *countingWriter
	enc     *cbor.Encoder
	flush   func() error // codec flush, nil when uncompressed
	closer  func() error // codec close, nil when uncompressed
	path    string
	closed  bool
}

// Open creates the journal directory if needed and opens the first
// segment.
func Open(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("journal: no directory configured")
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	// The journal names subjects and the actions they attempted;
	// restrict it like a system log.
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	w := &Writer{
		dir:         opts.Dir,
		maxBytes:    opts.MaxSegmentBytes,
		compression: opts.Compression,
		clk:         opts.Clock,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openSegmentLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Append journals one decision and returns its record ID. A zero
// Time is stamped with the current time; an empty ID is minted. The
// record is flushed through the compression stage before Append
// returns, so readers observe it immediately.
func (w *Writer) Append(rec Record) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}

	if rec.Time.IsZero() {
		rec.Time = w.clk.Now()
	}
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(rec.Time), w.entropy).String()
	}

	if err := w.enc.Encode(rec); err != nil {
		return "", fmt.Errorf("encoding journal record: %w", err)
	}
	if w.flush != nil {
		if err := w.flush(); err != nil {
			return "", fmt.Errorf("flushing journal segment: %w", err)
		}
	}

	// The record is durable in the current segment even if rotation
	// fails, so the ID is returned alongside any rotation error.
	if w.counter.n >= w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return rec.ID, err
		}
	}
	return rec.ID, nil
}

// Rotate closes the open segment and starts a fresh one regardless of
// size. The daemon rotates on policy reload so a segment never spans
// two policy generations.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.rotateLocked()
}

// CurrentSegment returns the path of the open segment.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close finishes the open segment. Further appends return ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegmentLocked()
}

func (w *Writer) rotateLocked() error {
	if err := w.closeSegmentLocked(); err != nil {
		return err
	}
	return w.openSegmentLocked()
}

func (w *Writer) openSegmentLocked() error {
	id := ulid.MustNew(ulid.Timestamp(w.clk.Now()), w.entropy)
	name := id.String() + SegmentSuffix + w.compression.suffix()
	path := filepath.Join(w.dir, name)

	// O_EXCL: ULIDs never collide in practice, so an existing file
	// means something else owns this directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("creating journal segment: %w", err)
	}

	var sink io.Writer = file
	w.flush, w.closer = nil, nil
	switch w.compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			os.Remove(path)
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		sink, w.flush, w.closer = zw, zw.Flush, zw.Close
	case CompressionLZ4:
		lw := lz4.NewWriter(file)
		sink, w.flush, w.closer = lw, lw.Flush, lw.Close
	}

	w.file = file
	w.counter = &countingWriter{w: sink}
	w.enc = encMode.NewEncoder(w.counter)
	w.path = path
	return nil
}

func (w *Writer) closeSegmentLocked() error {
	if w.file == nil {
		return nil
	}
	var firstErr error
	if w.closer != nil {
		if err := w.closer(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing journal codec: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("syncing journal segment: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing journal segment: %w", err)
	}
	w.file = nil
	w.counter = nil
	w.enc = nil
	w.flush, w.closer = nil, nil
	return firstErr
}
