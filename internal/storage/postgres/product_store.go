// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProductStore writes product records into Postgres. It implements
// crawler.RecordSink; (run_id, url) is unique so replays are ignored.
type ProductStore struct {
	pool  execCloser
	table string
	runID string
}

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewProductStoreWithPool constructs a store from an existing pool.
func NewProductStoreWithPool(pool execCloser, table, runID string) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductStore{pool: pool, table: table, runID: runID}, nil
}

// EnsureSchema creates the products table when missing.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id             TEXT        NOT NULL,
	url                TEXT        NOT NULL,
	title              TEXT        NOT NULL,
	number_of_ratings  INTEGER     NOT NULL DEFAULT 0,
	rating_in_percents DOUBLE PRECISION,
	lowest_price       DOUBLE PRECISION,
	currency           TEXT,
	store_prices       JSONB       NOT NULL DEFAULT '[]'::jsonb,
	category_url       TEXT,
	crawled_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure products table: %w", err)
	}
	return nil
}

// Write inserts a product row.
func (s *ProductStore) Write(ctx context.Context, record crawler.ProductRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("product store is not configured")
	}
	if record.URL == "" {
		return fmt.Errorf("record url is required")
	}
	offers := record.StorePrices
	if offers == nil {
		offers = []crawler.StoreOffer{}
	}
	offersJSON, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("marshal store prices: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	title,
	number_of_ratings,
	rating_in_percents,
	lowest_price,
	currency,
	store_prices,
	category_url,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (run_id, url) DO NOTHING`, s.table)

	args := []any{
		s.runID,
		record.URL,
		record.Title,
		record.NumberOfRatings,
		record.RatingInPercents,
		record.LowestPrice,
		record.Currency,
		offersJSON,
		record.CategoryURL,
		record.CrawledAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *ProductStore) Close(context.Context) error {
	return nil
}
