// Package collyfetcher fetches listing and product pages over plain HTTP
// with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultAcceptLanguage = "cs-CZ,cs;q=0.9,en;q=0.5"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// AcceptLanguage is sent unless the request sets its own.
	AcceptLanguage string
	// MaxBodyBytes caps response bodies; zero keeps colly's limit.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher. It keeps two template collectors that
// share one transport, and clones the matching one per fetch so robots.txt
// verdicts are cached across the run.
type Fetcher struct {
	cfg    Config
	plain  *colly.Collector
	robots *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	transport := newHTTPTransport()
	return &Fetcher{
		cfg:    cfg,
		plain:  newTemplate(cfg, transport, false),
		robots: newTemplate(cfg, newRobotsTransport(transport), true),
	}
}

func newTemplate(cfg Config, rt http.RoundTripper, respectRobots bool) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.IgnoreRobotsTxt = !respectRobots
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(rt)
	return c
}

// Fetch performs one GET. Non-2xx responses come back together with
// crawler.ErrFetchStatus so callers can inspect the status code.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	template := f.plain
	if f.cfg.RespectRobots || request.RespectRobots {
		template = f.robots
	}
	collector := template.Clone()
	v := &visit{req: request, acceptLanguage: f.cfg.AcceptLanguage, start: time.Now()}
	v.attach(collector)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("static fetch %s: %w", request.URL, ctx.Err())
	case err := <-done:
		return v.result(err)
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// visit carries the state of a single Fetch through colly's callbacks.
type visit struct {
	req            crawler.FetchRequest
	acceptLanguage string
	start          time.Time

	resp crawler.FetchResponse
	err  error
}

func (v *visit) attach(hooks collectorHooks) {
	hooks.OnRequest(v.onRequest)
	hooks.OnResponse(v.onResponse)
	hooks.OnError(v.onError)
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.req.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
	if v.acceptLanguage != "" && r.Headers.Get("Accept-Language") == "" {
		r.Headers.Set("Accept-Language", v.acceptLanguage)
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.resp = v.capture(r)
}

// onError fires for transport failures and for non-2xx responses, which
// carry the response.
func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode != 0 {
		v.resp = v.capture(r)
	}
	v.err = err
}

func (v *visit) capture(r *colly.Response) crawler.FetchResponse {
	out := crawler.FetchResponse{
		URL:        v.req.URL,
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
	if r.Request != nil && r.Request.URL != nil {
		out.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		out.Headers = r.Headers.Clone()
	}
	return out
}

func (v *visit) result(visitErr error) (crawler.FetchResponse, error) {
	err := visitErr
	if err == nil {
		err = v.err
	}
	switch {
	case err == nil:
		metrics.ObserveFetchDuration("static", v.resp.Duration)
		return v.resp, nil
	case v.resp.StatusCode != 0:
		return v.resp, fmt.Errorf("%w: %d: %v", crawler.ErrFetchStatus, v.resp.StatusCode, err)
	default:
		return crawler.FetchResponse{}, fmt.Errorf("static fetch %s: %w", v.req.URL, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
