package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.slots) != 2 {
		t.Fatalf("expected 2 tab slots, got %d", cap(fetcher.slots))
	}
	if fetcher.cfg.NavigationTimeout != defaultNavigationTimeout || fetcher.cfg.SettleTimeout != defaultSettleTimeout {
		t.Fatalf("expected default timeouts, got %+v", fetcher.cfg)
	}
	if fetcher.cfg.Logger == nil {
		t.Fatal("expected a logger")
	}
}

func TestAcquireReleasesSlot(t *testing.T) {
	t.Parallel()

	f := &Fetcher{slots: make(chan struct{}, 1)}
	release, err := f.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected full slots to block until deadline, got %v", err)
	}

	release()
	release2, err := f.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()

	unlimited := &Fetcher{}
	rel, err := unlimited.acquire(context.Background())
	if err != nil {
		t.Fatalf("unlimited acquire: %v", err)
	}
	rel()
}

func TestHeaderConversion(t *testing.T) {
	t.Parallel()

	out := toNetworkHeaders(http.Header{"Accept-Language": {"cs", "en"}, "X-Empty": nil})
	if out["Accept-Language"] != "cs, en" {
		t.Fatalf("expected folded header, got %v", out["Accept-Language"])
	}
	if _, ok := out["X-Empty"]; ok {
		t.Fatal("empty headers must be skipped")
	}

	in := fromNetworkHeaders(network.Headers{
		"Set-Cookie": "a=1\nb=2",
		"X-List":     []any{"x", "y"},
		"X-Num":      42,
	})
	if got := in.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("expected split cookies, got %v", got)
	}
	if got := in.Values("X-List"); len(got) != 2 {
		t.Fatalf("expected list values, got %v", got)
	}
	if in.Get("X-Num") != "42" {
		t.Fatalf("expected stringified number, got %q", in.Get("X-Num"))
	}
}

func TestDocumentTracker(t *testing.T) {
	t.Parallel()

	doc := &documentTracker{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://mixery.heureka.cz/bosch/",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := doc.result("https://req", "https://location")
	if status != 203 || headers.Get("X-Request-ID") != "abc" || url != "https://mixery.heureka.cz/bosch/" {
		t.Fatalf("unexpected result: status=%d headers=%v url=%s", status, headers, url)
	}

	empty := &documentTracker{}
	status, headers, url = empty.result("https://req", "https://location")
	if status != http.StatusOK || headers == nil || url != "https://location" {
		t.Fatalf("expected location fallback, got status=%d url=%s", status, url)
	}
	if _, _, url = empty.result("https://req", ""); url != "https://req" {
		t.Fatalf("expected requested url fallback, got %s", url)
	}
}

func TestAnySelectorPresentEscapesSelectors(t *testing.T) {
	t.Parallel()

	expr, err := anySelectorPresent([]string{".c-offer__price, .price-wrapper", `a[data-x="1"]`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(expr, `[".c-offer__price, .price-wrapper","a[data-x=\"1\"]"]`) {
		t.Fatalf("selectors not embedded as JSON: %s", expr)
	}
	if !strings.Contains(expr, "document.querySelector(s)") {
		t.Fatalf("unexpected probe expression: %s", expr)
	}
}
