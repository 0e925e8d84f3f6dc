// Package publish adapts a crawler.Publisher into a record sink that sends
// one message per product record.
package publish

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Message is the payload published for each record.
type Message struct {
	RunID  string                `json:"run_id"`
	Record crawler.ProductRecord `json:"record"`
}

// Sink publishes records to a topic or queue.
type Sink struct {
	pub   crawler.Publisher
	topic string
	runID string
	close func() error
}

// New returns a Sink publishing to topic. closeFn, when non-nil, is invoked
// by Close to release the publisher.
func New(pub crawler.Publisher, topic, runID string, closeFn func() error) (*Sink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &Sink{pub: pub, topic: topic, runID: runID, close: closeFn}, nil
}

// Write publishes a single record.
func (s *Sink) Write(ctx context.Context, record crawler.ProductRecord) error {
	if _, err := s.pub.Publish(ctx, s.topic, Message{RunID: s.runID, Record: record}); err != nil {
		return fmt.Errorf("publish record %s: %w", record.URL, err)
	}
	return nil
}

// Close releases the publisher when a close function was supplied.
func (s *Sink) Close(context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
