// Package jsonl writes product records as newline-delimited JSON.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Sink serialises records to an io.Writer, one JSON object per line.
type Sink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

// Open creates (or truncates) path and returns a Sink writing to it.
func Open(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 -- operator-supplied output path.
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return New(f), nil
}

// New wraps w. If w is an io.Closer it is closed by Close.
func New(w io.Writer) *Sink {
	s := &Sink{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Write appends record as a single line.
func (s *Sink) Write(_ context.Context, record crawler.ProductRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("jsonl sink closed")
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close flushes buffered lines and closes the underlying writer.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
	}
	return nil
}
