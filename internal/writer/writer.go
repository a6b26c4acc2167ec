// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package writer appends synthetic records to the augmented dataset.
//
// Each record is encoded into one buffer ending in a newline, written with a
// single Write and synced before Append returns. A crash therefore leaves a
// file made of complete records only. Appends are serialized; the Writer is
// the only component that touches the output file during a run.
package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pdiddy/mesh-augment/pkg/types"
)

// ErrClosed is returned by Append after Close or after a failed write.
var ErrClosed = errors.New("writer is closed")

// file is the subset of *os.File the writer needs.
type file interface {
	io.Writer
	Sync() error
	Close() error
}

// Writer is an append-only, line-delimited JSON sink.
type Writer struct {
	mu      sync.Mutex
	f       file
	path    string
	written int
	err     error
}

// Open opens path for appending, creating it if absent.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output %s: %w", path, err)
	}
	return newWriter(f, path), nil
}

func newWriter(f file, path string) *Writer {
	return &Writer{f: f, path: path}
}

// Append writes rec as one line and syncs the file. After any failure the
// writer refuses further records.
func (w *Writer) Append(rec types.OutputRecord) error {
	line, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.PMID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	if w.f == nil {
		return ErrClosed
	}

	if _, err := w.f.Write(line); err != nil {
		w.err = fmt.Errorf("%w: write to %s failed: %v", ErrClosed, w.path, err)
		return fmt.Errorf("writing record to %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		w.err = fmt.Errorf("%w: sync of %s failed: %v", ErrClosed, w.path, err)
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	w.written++
	return nil
}

// Written returns the number of records appended by this writer.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Path returns the output path.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the file. Calling Close twice is safe.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func encode(rec types.OutputRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode terminates the value with '\n'.
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
