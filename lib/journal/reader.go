// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Segments returns the journal segment files under dir, oldest first.
// Segment names start with the ULID minted when the segment opened,
// so plain name order is chronological order.
func Segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing journal directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isSegmentName(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

func isSegmentName(name string) bool {
	name = strings.TrimSuffix(name, ".zst")
	name = strings.TrimSuffix(name, ".lz4")
	return strings.HasSuffix(name, SegmentSuffix)
}

// Reader iterates the records of one segment.
type Reader struct {
	file *os.File
	zstd *zstd.Decoder
	dec  *cbor.Decoder
}

// OpenSegment opens a segment for reading, selecting the codec from
// the file name.
func OpenSegment(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: file}
	var src io.Reader = file
	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		r.zstd = zr
		src = zr
	case strings.HasSuffix(path, ".lz4"):
		src = lz4.NewReader(file)
	}
	r.dec = decMode.NewDecoder(src)
	return r, nil
}

// Next returns the next record. It returns io.EOF at a clean end of
// segment; a segment truncated mid-record (the writer crashed) ends
// with io.ErrUnexpectedEOF instead.
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)
	return rec, err
}

// Close releases the segment.
func (r *Reader) Close() error {
	if r.zstd != nil {
		r.zstd.Close()
	}
	return r.file.Close()
}

// ReadSegment reads every record of one segment.
func ReadSegment(path string) ([]Record, error) {
	r, err := OpenSegment(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("reading %s: %w", path, err)
		}
		records = append(records, rec)
	}
}
