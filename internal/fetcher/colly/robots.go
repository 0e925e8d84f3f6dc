package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport sits under colly. Page requests pass straight through;
// robots.txt probes that keep timing out resolve to an allow-all document
// instead of failing the page that triggered them.
type robotsTransport struct {
	next    http.RoundTripper
	backoff []time.Duration
}

func newRobotsTransport(next http.RoundTripper) *robotsTransport {
	return &robotsTransport{next: next, backoff: defaultRobotsBackoff}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("robots transport: request without url")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}

	for attempt := 0; attempt <= len(t.backoff); attempt++ {
		if attempt > 0 {
			if err := pause(req.Context(), t.backoff[attempt-1]); err != nil {
				return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
			}
		}
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
		}
	}
	metrics.ObserveRobotsFallback()
	return allowAllResponse(req), nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}

// isTimeout matches the handshake and dial timeouts some storefront CDNs
// produce for robots.txt.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
