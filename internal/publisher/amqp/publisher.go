// Package amqp publishes JSON payloads to RabbitMQ queues.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config describes the broker connection.
type Config struct {
	URL string
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends each payload as a persistent message to a durable queue
// named after the topic. Queues are declared on first use.
type Publisher struct {
	conn *amqp.Connection
	ch   channel

	mu       sync.Mutex
	declared map[string]struct{}
	seq      atomic.Uint64
}

// New dials the broker and opens a channel.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p := newWithChannel(ch)
	p.conn = conn
	return p, nil
}

func newWithChannel(ch channel) *Publisher {
	return &Publisher{ch: ch, declared: make(map[string]struct{})}
}

// Publish marshals payload and publishes it to the queue named topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("amqp queue is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.declare(topic); err != nil {
		return "", err
	}
	id := strconv.FormatUint(p.seq.Add(1), 10)
	err = p.ch.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) declare(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.declared[queue]; ok {
		return nil
	}
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	p.declared[queue] = struct{}{}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = fmt.Errorf("close amqp channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return firstErr
}
