// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// Supported backends and sinks.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendRedis  = "redis"

	SinkJSONL    = "jsonl"
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkBlob     = "blob"
	SinkPubSub   = "pubsub"
	SinkAMQP     = "amqp"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxConcurrentRuns      int `mapstructure:"max_concurrent_runs"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl itself.
type CrawlerConfig struct {
	StartURLs             []string `mapstructure:"start_urls"`
	MaxPages              int      `mapstructure:"max_pages"`
	MaxProducts           int      `mapstructure:"max_products"`
	Concurrency           int      `mapstructure:"concurrency"`
	UserAgent             string   `mapstructure:"user_agent"`
	RespectRobots         bool     `mapstructure:"respect_robots"`
	RatePerHost           float64  `mapstructure:"rate_per_host"`
	BurstPerHost          int      `mapstructure:"burst_per_host"`
	RatePerSite           bool     `mapstructure:"rate_per_site"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	MaxAttempts           int      `mapstructure:"max_attempts"`
	BackoffInitialMs      int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int      `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxParallel      int  `mapstructure:"max_parallel"`
	NavTimeoutSec    int  `mapstructure:"nav_timeout_seconds"`
	SettleTimeoutSec int  `mapstructure:"settle_timeout_seconds"`
	PromotionThresh  int  `mapstructure:"promotion_threshold"`
	PromoteListings  bool `mapstructure:"promote_listings"`
	// ExpectMarkers are fragments every server-rendered listing carries.
	// A listing with none of them is re-fetched headless.
	ExpectMarkers []string `mapstructure:"expect_markers"`
}

// ExtractConfig tunes record extraction.
type ExtractConfig struct {
	TopOffers           int  `mapstructure:"top_offers"`
	AllowStaticProducts bool `mapstructure:"allow_static_products"`
}

// SelectorsConfig overrides individual CSS selectors. Empty values keep
// the built-in defaults.
type SelectorsConfig struct {
	ProductLinks         string `mapstructure:"product_links"`
	ProductLinksFallback string `mapstructure:"product_links_fallback"`
	NextPage             string `mapstructure:"next_page"`
	ProductMarkers       string `mapstructure:"product_markers"`
	Title                string `mapstructure:"title"`
	RatingCount          string `mapstructure:"rating_count"`
	RatingPercent        string `mapstructure:"rating_percent"`
	LowestPrice          string `mapstructure:"lowest_price"`
	Offers               string `mapstructure:"offers"`
	OfferShopName        string `mapstructure:"offer_shop_name"`
	OfferLink            string `mapstructure:"offer_link"`
	OfferPrice           string `mapstructure:"offer_price"`
}

// DedupConfig selects the product dedup gate.
type DedupConfig struct {
	Backend string      `mapstructure:"backend"`
	PerRun  bool        `mapstructure:"per_run"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig describes the shared dedup store.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// OutputConfig lists where product records go.
type OutputConfig struct {
	Sinks         []string `mapstructure:"sinks"`
	JSONLPath     string   `mapstructure:"jsonl_path"`
	PostgresTable string   `mapstructure:"postgres_table"`
	PubSubTopic   string   `mapstructure:"pubsub_topic"`
	AMQPQueue     string   `mapstructure:"amqp_queue"`
	ExportPrefix  string   `mapstructure:"export_prefix"`
}

// StorageConfig selects the blob store used for exports and snapshots.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	BaseDir          string `mapstructure:"base_dir"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	Prefix           string `mapstructure:"prefix"`
	SnapshotFailures bool   `mapstructure:"snapshot_failures"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	StoreRuns              bool   `mapstructure:"store_runs"`
}

// PubSubConfig holds the Google Cloud project for record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// AMQPConfig holds the RabbitMQ connection URL.
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level is a zap level name (debug, info, warn, error). Empty keeps the
	// preset's default.
	Level string `mapstructure:"level"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("crawler.start_urls", []string{})
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.max_products", 1000)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "catalog-crawler/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.rate_per_host", 2.0)
	v.SetDefault("crawler.burst_per_host", 2)
	v.SetDefault("crawler.rate_per_site", true)
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_initial_ms", 500)
	v.SetDefault("crawler.backoff_max_ms", 10000)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_timeout_seconds", 10)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.promote_listings", true)
	v.SetDefault("headless.expect_markers", []string{"c-product__link", "c-product-list"})
	v.SetDefault("extract.top_offers", extract.DefaultTopOffers)
	v.SetDefault("extract.allow_static_products", false)
	v.SetDefault("dedup.backend", BackendMemory)
	v.SetDefault("dedup.per_run", true)
	v.SetDefault("dedup.redis.addr", "localhost:6379")
	v.SetDefault("dedup.redis.key_prefix", "catalog-crawler:seen")
	v.SetDefault("dedup.redis.ttl_seconds", 7*24*3600)
	v.SetDefault("output.sinks", []string{SinkJSONL})
	v.SetDefault("output.jsonl_path", "data/{run_id}.jsonl")
	v.SetDefault("output.postgres_table", "products")
	v.SetDefault("output.export_prefix", "exports")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.snapshot_failures", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.log_events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPages < 0 || c.Crawler.MaxProducts < 0 {
		return fmt.Errorf("crawler.max_pages and crawler.max_products must be >= 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if !c.Headless.Enabled && !c.Extract.AllowStaticProducts {
		return fmt.Errorf("extract.allow_static_products must be true when headless is disabled")
	}
	if c.Extract.TopOffers <= 0 {
		return fmt.Errorf("extract.top_offers must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateDedup(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateOutput()
}

func (c Config) validateDedup() error {
	switch c.Dedup.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Dedup.Redis.Addr == "" {
			return fmt.Errorf("dedup.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown dedup.backend %q", c.Dedup.Backend)
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateOutput() error {
	if len(c.Output.Sinks) == 0 {
		return fmt.Errorf("output.sinks must list at least one sink")
	}
	for _, sink := range c.Output.Sinks {
		switch sink {
		case SinkJSONL:
			if c.Output.JSONLPath == "" {
				return fmt.Errorf("output.jsonl_path is required for the jsonl sink")
			}
		case SinkMemory:
			if c.DB.StoreRuns {
				return fmt.Errorf("the memory sink cannot be combined with db.store_runs")
			}
		case SinkBlob:
		case SinkPostgres:
			if c.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required for the postgres sink")
			}
		case SinkPubSub:
			if c.PubSub.ProjectID == "" || c.Output.PubSubTopic == "" {
				return fmt.Errorf("pubsub.project_id and output.pubsub_topic are required for the pubsub sink")
			}
		case SinkAMQP:
			if c.AMQP.URL == "" || c.Output.AMQPQueue == "" {
				return fmt.Errorf("amqp.url and output.amqp_queue are required for the amqp sink")
			}
		default:
			return fmt.Errorf("unknown output sink %q", sink)
		}
	}
	if c.DB.StoreRuns && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.store_runs is enabled")
	}
	return nil
}

// RequestTimeout returns the static fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}

// ExtractSelectors merges configured overrides with the defaults.
func (c Config) ExtractSelectors() extract.Selectors {
	s := c.Selectors
	return extract.Selectors{
		ProductLinks:         s.ProductLinks,
		ProductLinksFallback: s.ProductLinksFallback,
		NextPage:             s.NextPage,
		ProductMarkers:       s.ProductMarkers,
		Title:                s.Title,
		RatingCount:          s.RatingCount,
		RatingPercent:        s.RatingPercent,
		LowestPrice:          s.LowestPrice,
		Offers:               s.Offers,
		OfferShopName:        s.OfferShopName,
		OfferLink:            s.OfferLink,
		OfferPrice:           s.OfferPrice,
	}.WithDefaults()
}

// JSONLPath expands the {run_id} placeholder of output.jsonl_path.
func (c Config) JSONLPath(runID string) string {
	return strings.ReplaceAll(c.Output.JSONLPath, "{run_id}", runID)
}
