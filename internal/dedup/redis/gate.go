// Package redis provides a deduplication gate shared between crawler
// processes, backed by Redis SET NX.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config controls the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Close() error
}

// Gate admits keys with an atomic SET NX.
type Gate struct {
	client setNXer
	prefix string
	ttl    time.Duration
}

// New dials Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Gate, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewWithClient wires an existing client; used by tests.
func NewWithClient(client setNXer, prefix string, ttl time.Duration) *Gate {
	if prefix == "" {
		prefix = "catalog-crawler:seen"
	}
	return &Gate{client: client, prefix: strings.TrimSuffix(prefix, ":"), ttl: ttl}
}

// Admit returns true only for the first caller that stores key.
func (g *Gate) Admit(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, err := g.client.SetNX(ctx, g.prefix+":"+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Scoped returns a gate whose keys live under an additional namespace,
// typically the run ID.
func (g *Gate) Scoped(namespace string) *Gate {
	if namespace == "" {
		return g
	}
	return &Gate{client: g.client, prefix: g.prefix + ":" + namespace, ttl: g.ttl}
}

// Close releases the underlying client.
func (g *Gate) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
