// Package headless renders pages in headless Chrome for listings and product
// pages whose content is injected client side.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleTimeout     = 10 * time.Second
	settlePollInterval       = 200 * time.Millisecond
	// idleSettle is how long a page without wait selectors gets to finish
	// client-side rendering.
	idleSettle = 500 * time.Millisecond
)

// Config controls the browser and per-page timing.
type Config struct {
	// MaxParallel caps open tabs; zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleTimeout bounds the wait for a request's WaitSelectors.
	SettleTimeout time.Duration
	Logger        *zap.Logger
}

// Fetcher implements crawler.Fetcher with one shared Chrome process and a
// fresh tab per fetch.
type Fetcher struct {
	cfg      Config
	slots    chan struct{}
	browser  context.Context
	shutdown context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome itself starts lazily on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	browser, shutdown := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, browser: browser, shutdown: shutdown}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close stops the browser.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Fetch opens req.URL in a new tab and returns the rendered DOM. With
// WaitSelectors set, the DOM is read once one of them matches or the settle
// timeout passes, whichever is first.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	release, err := f.acquire(ctx)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentTracker{}
	chromedp.ListenTarget(tab, doc.observe)

	var html, location string
	start := time.Now()
	err = chromedp.Run(tab,
		f.prepare(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.settle(req),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", req.URL, err)
	}
	elapsed := time.Since(start)
	metrics.ObserveFetchDuration("headless", elapsed)

	status, headers, finalURL := doc.result(req.URL, location)
	return crawler.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     elapsed,
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) acquire(ctx context.Context) (func(), error) {
	if f.slots == nil {
		return func() {}, nil
	}
	select {
	case f.slots <- struct{}{}:
		return func() { <-f.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// settle waits for the offer table and prices, which product pages inject
// after load. A timeout is not an error: the page is read as it stands.
func (f *Fetcher) settle(req crawler.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(req.WaitSelectors) == 0 {
			return chromedp.Sleep(idleSettle).Do(ctx)
		}
		expr, err := anySelectorPresent(req.WaitSelectors)
		if err != nil {
			return err
		}
		var found bool
		err = chromedp.Poll(expr, &found,
			chromedp.WithPollingInterval(settlePollInterval),
			chromedp.WithPollingTimeout(f.cfg.SettleTimeout),
		).Do(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chromedp.ErrPollingTimeout):
			metrics.ObserveRenderSettleTimeout()
			f.cfg.Logger.Warn("wait selectors never appeared",
				zap.String("run_id", req.RunID),
				zap.String("url", req.URL),
				zap.Strings("selectors", req.WaitSelectors),
			)
			return nil
		default:
			return fmt.Errorf("wait for selectors: %w", err)
		}
	})
}

// anySelectorPresent builds a JS expression that is true once any selector
// matches. Invalid selectors count as absent.
func anySelectorPresent(selectors []string) (string, error) {
	encoded, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("encode wait selectors: %w", err)
	}
	return fmt.Sprintf(`%s.some((s) => { try { return document.querySelector(s) !== null; } catch (e) { return false; } })`, encoded), nil
}

// documentTracker keeps the last top-level document response, which after
// redirects is the page actually rendered.
type documentTracker struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentTracker) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := fromNetworkHeaders(resp.Response.Headers)
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document response was seen.
func (d *documentTracker) result(requested, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	url := d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	return status, headers, url
}

func fromNetworkHeaders(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers into one newline-separated value.
			for _, part := range strings.Split(v, "\n") {
				out.Add(key, part)
			}
		case []any:
			for _, part := range v {
				out.Add(key, fmt.Sprint(part))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

// toNetworkHeaders folds repeated values into one comma-separated string;
// the DevTools protocol only accepts string header values.
func toNetworkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
