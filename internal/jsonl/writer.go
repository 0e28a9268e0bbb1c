// Package jsonl writes newline-delimited JSON records.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer appends one JSON object per line. A nil *Writer discards records.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	tees   []func([]byte)
}

// Open returns a writer appending to path, creating parent directories.
// "-" writes to stdout; a blank path returns nil.
func Open(path string) (*Writer, error) {
	path = strings.TrimSpace(path)
	switch path {
	case "":
		return nil, nil
	case "-":
		return NewWriter(os.Stdout), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// NewWriter wraps out. Close flushes but does not close out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(out, 64*1024)}
}

// Tee registers fn to receive a copy of every encoded line (without the
// trailing newline). fn must not block.
func (w *Writer) Tee(fn func(line []byte)) {
	if w == nil || fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tees = append(w.tees, fn)
}

// Write encodes v as one line and flushes it so tailers see it at once.
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	if v == nil {
		return fmt.Errorf("jsonl: nil record")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("jsonl: write after close")
	}
	if _, err := w.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	for _, fn := range w.tees {
		fn(b)
	}
	return nil
}

// Close flushes buffered data and closes the file opened by Open.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}

	err := w.w.Flush()
	w.w = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
