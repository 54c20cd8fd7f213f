// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores bus traffic as a stream of CBOR records.
//
// A capture starts with a header record followed by one record per byte
// sequence: [time, direction, parity, data]. Time is Unix nanoseconds.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/rff60emu/pkg/bus"
)

// Format identifies capture files
const (
	Format  = "rff60-capture"
	Version = 1
)

// ErrBadHeader is returned when a stream does not start with a capture header
var ErrBadHeader = errors.New("capture: not a capture stream")

// Record is one captured byte sequence
type Record struct {
	Time   time.Time
	Dir    bus.Direction
	Parity bus.Parity
	Data   []byte
}

type header struct {
	_       struct{} `cbor:",toarray"`
	Format  string
	Version uint
}

type record struct {
	_      struct{} `cbor:",toarray"`
	Time   int64
	Dir    uint8
	Parity uint8
	Data   []byte
}

// Writer appends records to a stream. It implements emulator.FrameRecorder
// and is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	count  int
}

// Create opens path for writing, truncating an existing file
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the header to out and returns a writer for records
func NewWriter(out io.Writer) (*Writer, error) {
	buf := bufio.NewWriter(out)
	w := &Writer{buf: buf, enc: cbor.NewEncoder(buf)}
	if err := w.enc.Encode(header{Format: Format, Version: Version}); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return w, nil
}

// RecordFrame appends one record
func (w *Writer) RecordFrame(ts time.Time, dir bus.Direction, parity bus.Parity, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(record{
		Time:   ts.UnixNano(),
		Dir:    uint8(dir),
		Parity: uint8(parity),
		Data:   data,
	}); err != nil {
		return fmt.Errorf("capture: write record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered records to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the file opened by Create
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads records back
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
}

// Open opens a capture file
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader checks the header of in
func NewReader(in io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(bufio.NewReader(in))
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if h.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, h.Format)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, h.Version)
	}
	return &Reader{dec: dec}, nil
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: read record: %w", err)
	}
	return Record{
		Time:   time.Unix(0, rec.Time),
		Dir:    bus.Direction(rec.Dir),
		Parity: bus.Parity(rec.Parity),
		Data:   rec.Data,
	}, nil
}

// Close closes the file opened by Open
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
