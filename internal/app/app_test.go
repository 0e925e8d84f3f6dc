package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080, MaxConcurrentRuns: 1},
		Crawler: config.CrawlerConfig{
			Concurrency:           2,
			UserAgent:             "catalog-crawler-test",
			RatePerHost:           100,
			BurstPerHost:          10,
			RequestTimeoutSeconds: 5,
			MaxAttempts:           1,
		},
		Extract: config.ExtractConfig{TopOffers: 5, AllowStaticProducts: true},
		Dedup:   config.DedupConfig{Backend: config.BackendMemory, PerRun: true},
		Output: config.OutputConfig{
			Sinks:     []string{config.SinkMemory, config.SinkJSONL},
			JSONLPath: filepath.Join(t.TempDir(), "{run_id}.jsonl"),
		},
		Storage:  config.StorageConfig{Backend: config.BackendMemory, Prefix: "runs"},
		Progress: config.ProgressConfig{MaxBatchWaitMs: 10},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(ctx))
	})
	return a
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	require.NotNil(t, a.Runs())
	require.NotNil(t, a.Records())
	require.Nil(t, a.headless)
	require.Nil(t, a.pool)
	require.Equal(t, 2, a.Config().Crawler.Concurrency)
}

func TestRecordsNilWithoutMemorySink(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Output.Sinks = []string{config.SinkJSONL}
	a := newTestApp(t, cfg)
	require.Nil(t, a.Records())
}

func TestGateScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	perRun := newTestApp(t, testConfig(t))
	ok, err := perRun.gateFor("run-1").Admit(ctx, "https://mobily.heureka.cz/a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = perRun.gateFor("run-2").Admit(ctx, "https://mobily.heureka.cz/a")
	require.NoError(t, err)
	require.True(t, ok, "per-run gates must not share keys")

	cfg := testConfig(t)
	cfg.Dedup.PerRun = false
	shared := newTestApp(t, cfg)
	ok, err = shared.gateFor("run-1").Admit(ctx, "https://mobily.heureka.cz/a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = shared.gateFor("run-2").Admit(ctx, "https://mobily.heureka.cz/a")
	require.NoError(t, err)
	require.False(t, ok, "shared gate must remember earlier runs")
}

func TestSinkForWritesEveryConfiguredSink(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Output.Sinks = append(cfg.Output.Sinks, config.SinkBlob)
	cfg.Output.ExportPrefix = "exports"
	a := newTestApp(t, cfg)
	ctx := context.Background()
	require.NoError(t, a.Runs().CreateRun(ctx, crawler.Run{ID: "run-1", Status: crawler.RunStatusQueued}))

	sink, err := a.sinkFor("run-1")
	require.NoError(t, err)
	record := crawler.ProductRecord{Title: "Phone A", URL: "https://mobily.heureka.cz/a"}
	require.NoError(t, sink.Write(ctx, record))
	require.NoError(t, sink.Close(ctx))

	records, err := a.Records().ListRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.ProductRecord{record}, records)

	data, err := os.ReadFile(cfg.JSONLPath("run-1"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"title":"Phone A"`)

	blobs, ok := a.blobs.(interface{ Get(string) ([]byte, bool) })
	require.True(t, ok)
	exported, found := blobs.Get("exports/run-1/products.jsonl")
	require.True(t, found)
	require.Contains(t, string(exported), "Phone A")
}

func TestSinkForUnopenableJSONL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Output.JSONLPath = filepath.Join(blocker, "{run_id}.jsonl")
	a := newTestApp(t, cfg)

	_, err := a.sinkFor("run-1")
	require.ErrorContains(t, err, "open jsonl sink")
}

func TestCrawlWithoutValidSeedsFailsRun(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	ctx := context.Background()
	run := crawler.Run{
		ID:         "run-1",
		Status:     crawler.RunStatusQueued,
		Submitted:  time.Now().UTC(),
		Parameters: crawler.RunParameters{StartURLs: []string{"ftp://mobily.heureka.cz/"}},
	}
	require.NoError(t, a.Runs().CreateRun(ctx, run))

	r := NewRunner(ctx, a.Runs(), a.Crawl, 1, a.Logger())
	_, err := r.Execute(ctx, run)
	require.ErrorContains(t, err, "no valid start urls")

	got, err := a.Runs().GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, got.Status)
	require.NotNil(t, got.Summary)
	require.Zero(t, got.Summary.CategoryPages)
}
