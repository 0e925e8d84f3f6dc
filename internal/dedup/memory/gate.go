// Package memory provides an in-process deduplication gate.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate admits each key once using sync.Map's atomic LoadOrStore.
type Gate struct {
	seen  sync.Map
	count atomic.Int64
}

// NewGate constructs an empty Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Admit stores the key if it has not been seen before and returns true.
func (g *Gate) Admit(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	if _, loaded := g.seen.LoadOrStore(key, struct{}{}); loaded {
		return false, nil
	}
	g.count.Add(1)
	return true, nil
}

// Len returns the number of admitted keys.
func (g *Gate) Len() int {
	return int(g.count.Load())
}
