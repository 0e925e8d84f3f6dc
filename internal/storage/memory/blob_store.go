// Package memory keeps blobs, runs and records in process memory. It backs
// single-process deployments and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Object is a stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore implements crawler.BlobStore in memory.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject stores a copy of data and returns a memory:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	s.mu.Lock()
	s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Get returns a copy of the object body at path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	obj, ok := s.Object(path)
	return obj.Data, ok
}

// Object returns a copy of the object at path.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Keys lists stored paths under prefix in sorted order. An empty prefix
// lists everything.
func (s *BlobStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
