// Package memory provides the in-process crawl frontier.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var errClosed = errors.New("queue closed")

// Queue is an unbounded FIFO frontier that tracks in-flight tasks. Dequeue
// reports crawler.ErrFrontierDrained once the queue is empty and every
// dequeued task has been acknowledged with Done.
type Queue struct {
	mu       sync.Mutex
	items    []crawler.Task
	inFlight int
	closed   bool
	changed  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{changed: make(chan struct{})}
}

// Enqueue appends a task. It never blocks on capacity.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed
	}
	q.items = append(q.items, task)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the next task, waiting while other tasks are in flight.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return crawler.Task{}, errClosed
		}
		if len(q.items) > 0 {
			task := q.items[0]
			q.items[0] = crawler.Task{}
			q.items = q.items[1:]
			q.inFlight++
			q.mu.Unlock()
			return task, nil
		}
		if q.inFlight == 0 {
			q.mu.Unlock()
			return crawler.Task{}, crawler.ErrFrontierDrained
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Done acknowledges a dequeued task.
func (q *Queue) Done(crawler.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.broadcastLocked()
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of dequeued, unacknowledged tasks.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close wakes all waiters; later calls fail with "queue closed".
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
