// Package blobexport buffers records as JSONL and uploads them to a blob
// store when the run finishes.
package blobexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Sink collects records in memory and writes a single object on Close.
type Sink struct {
	store  crawler.BlobStore
	key    string
	logger *zap.Logger

	mu     sync.Mutex
	buf    bytes.Buffer
	count  int
	closed bool
	uri    string
}

// Key returns the object path used for a run's export.
func Key(prefix, runID string) string {
	return path.Join(prefix, runID, "products.jsonl")
}

// New returns a Sink that uploads to key on Close.
func New(store crawler.BlobStore, key string, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if key == "" {
		return nil, fmt.Errorf("export key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, key: key, logger: logger}, nil
}

// Write appends one JSON line to the pending export.
func (s *Sink) Write(_ context.Context, record crawler.ProductRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("blob export sink closed")
	}
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.count++
	return nil
}

// Close uploads the buffered records. An empty run still writes an empty
// object so consumers can tell the run finished.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	uri, err := s.store.PutObject(ctx, s.key, "application/x-ndjson", s.buf.Bytes())
	if err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	s.uri = uri
	s.logger.Info("records exported", zap.String("uri", uri), zap.Int("records", s.count))
	return nil
}

// URI returns the uploaded location once Close succeeded.
func (s *Sink) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}
