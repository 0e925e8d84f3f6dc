package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

func TestLimiter_Wait(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   10, // 10 requests per second = 100ms interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_PerSiteSharesSubdomains(t *testing.T) {
	metrics.Init()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1, PerSite: true})
	if got := l.bucketKey("https://mobilni-telefony.heureka.cz/x"); got != "heureka.cz" {
		t.Fatalf("expected heureka.cz bucket, got %q", got)
	}
	if err := l.Wait(context.Background(), "https://mobilni-telefony.heureka.cz/"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://pocitace.heureka.cz/"); err == nil {
		t.Fatal("expected sibling subdomain to share the exhausted bucket")
	}
}

func TestLimiter_UnlimitedAndCanceled(t *testing.T) {
	l := New(Config{})
	if got := l.bucketKey("::bad"); got != "unknown" {
		t.Fatalf("expected unknown bucket, got %q", got)
	}
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), "https://fast.example.com"); err != nil {
			t.Fatal(err)
		}
	}

	slow := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := slow.Wait(context.Background(), "https://slow.example.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := slow.Wait(ctx, "https://slow.example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}
