// Package detector decides when a statically fetched listing needs to be
// re-fetched through the headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const (
	defaultBodyThreshold = 2048
	// scriptSharePercent is the share of a small page taken by <script>
	// elements above which it is considered a client-rendered shell.
	scriptSharePercent = 25
)

// appShellSelectors match the mount points of common SPA frameworks.
const appShellSelectors = "#__next, #root, #app, [data-reactroot]"

// Heuristic flags listing pages whose product grid is rendered client side.
type Heuristic struct {
	// BodyLengthThreshold bounds the pages checked for script share.
	BodyLengthThreshold int
	// ExpectMarkers are fragments a server-rendered listing always carries.
	// A 200 page containing none of them is treated as a shell.
	ExpectMarkers [][]byte
}

// NewHeuristic returns a Heuristic. A zero threshold uses 2048 bytes; blank
// markers are ignored.
func NewHeuristic(threshold int, expectMarkers ...string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	h := &Heuristic{BodyLengthThreshold: threshold}
	for _, m := range expectMarkers {
		if m = strings.TrimSpace(m); m != "" {
			h.ExpectMarkers = append(h.ExpectMarkers, []byte(m))
		}
	}
	return h
}

// ShouldPromote implements crawler.HeadlessDetector.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	return h.Reason(resp) != ""
}

// Reason names the rule that asks for promotion, or returns "" when the
// static page is good enough. Only 200 responses are ever promoted.
func (h *Heuristic) Reason(resp crawler.FetchResponse) string {
	if resp.StatusCode != 200 {
		return ""
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return "empty body"
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(doc, len(body)) >= scriptSharePercent {
		return "script heavy"
	}
	if doc.Find(appShellSelectors).Length() > 0 {
		return "app shell"
	}
	if h.missingExpected(body) {
		return "listing markers missing"
	}
	return ""
}

func (h *Heuristic) missingExpected(body []byte) bool {
	if len(h.ExpectMarkers) == 0 {
		return false
	}
	for _, marker := range h.ExpectMarkers {
		if bytes.Contains(body, marker) {
			return false
		}
	}
	return true
}

// scriptShare returns the percentage of total taken by serialized <script>
// elements.
func scriptShare(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			covered += len(html)
		}
	})
	if covered > total {
		covered = total
	}
	return covered * 100 / total
}
