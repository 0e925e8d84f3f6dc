package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultTopOffers is how many featured store offers a record keeps.
const DefaultTopOffers = 5

var blockMarkers = []string{"just a moment", "access denied", "attention required"}

// Options tunes an Extractor.
type Options struct {
	TopOffers int
	Clock     crawler.Clock
}

// Extractor applies Selectors to fetched pages.
type Extractor struct {
	sel       Selectors
	topOffers int
	clock     crawler.Clock
}

// Page is a parsed document plus the URL it was fetched from.
type Page struct {
	URL *url.URL
	doc *goquery.Document
}

// Discovery is the outcome of reading one category listing page.
type Discovery struct {
	// Products holds canonical product URLs in page order, unique per page.
	Products []string
	// Next is the canonical next-page URL, or "" on the last page.
	Next string
}

// New builds an Extractor. Empty selectors fall back to the defaults.
func New(sel Selectors, opts Options) *Extractor {
	if opts.TopOffers <= 0 {
		opts.TopOffers = DefaultTopOffers
	}
	if opts.Clock == nil {
		opts.Clock = crawler.SystemClock{}
	}
	return &Extractor{
		sel:       sel.WithDefaults(),
		topOffers: opts.TopOffers,
		clock:     opts.Clock,
	}
}

// Selectors returns the effective selectors.
func (e *Extractor) Selectors() Selectors {
	return e.sel
}

// Load parses an HTML body fetched from pageURL.
func (e *Extractor) Load(pageURL string, body []byte) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{URL: u, doc: doc}, nil
}

// DetectBlock returns crawler.ErrBlocked when the page is a challenge or
// access-denied interstitial rather than catalog content.
func (e *Extractor) DetectBlock(p *Page) error {
	title := strings.ToLower(strings.TrimSpace(p.doc.Find("title").First().Text()))
	for _, marker := range blockMarkers {
		if strings.Contains(title, marker) {
			return fmt.Errorf("%w: %q", crawler.ErrBlocked, title)
		}
	}
	return nil
}

// Classify reports whether the page is a product page or a category listing.
func (e *Extractor) Classify(p *Page) crawler.TaskKind {
	if p.doc.Find(e.sel.ProductMarkers).Length() > 0 {
		return crawler.TaskProduct
	}
	return crawler.TaskCategory
}

// Discover collects product links and the next-page link of a listing.
// A missing or unusable next link means the last page was reached.
func (e *Extractor) Discover(p *Page) Discovery {
	var out Discovery
	links := p.doc.Find(e.sel.ProductLinks)
	if links.Length() == 0 && e.sel.ProductLinksFallback != "" {
		links = p.doc.Find(e.sel.ProductLinksFallback)
	}

	seen := make(map[string]struct{})
	links.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		canonical, err := crawler.CanonicalProductURL(href, p.URL)
		if err != nil || !crawler.SameSite(canonical, p.URL.String()) {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		out.Products = append(out.Products, canonical)
	})

	out.Next = e.nextPage(p)
	return out
}

func (e *Extractor) nextPage(p *Page) string {
	href, ok := p.doc.Find(e.sel.NextPage).First().Attr("href")
	if !ok {
		return ""
	}
	next, err := crawler.CanonicalPageURL(href, p.URL)
	if err != nil || !crawler.SameSite(next, p.URL.String()) {
		return ""
	}
	current, err := crawler.CanonicalPageURL(p.URL.String(), nil)
	if err == nil && current == next {
		return ""
	}
	return next
}

// Extract maps a product page to a record. Missing title or identity is an
// extraction failure; missing ratings, price or offers are left absent.
func (e *Extractor) Extract(p *Page) (crawler.ProductRecord, error) {
	canonical, err := crawler.CanonicalProductURL(p.URL.String(), nil)
	if err != nil {
		return crawler.ProductRecord{}, fmt.Errorf("%w: canonical url: %v", crawler.ErrExtraction, err)
	}
	title := collapseSpace(p.doc.Find(e.sel.Title).First().Text())
	if title == "" {
		return crawler.ProductRecord{}, fmt.Errorf("%w: title not found", crawler.ErrExtraction)
	}

	record := crawler.ProductRecord{
		Title:       title,
		URL:         canonical,
		StorePrices: []crawler.StoreOffer{},
		CrawledAt:   e.clock.Now(),
	}

	if count, ok := ParseCount(p.doc.Find(e.sel.RatingCount).First().Text()); ok {
		record.NumberOfRatings = count
	}
	if record.NumberOfRatings > 0 {
		if pct, ok := ParsePercent(p.doc.Find(e.sel.RatingPercent).First().Text()); ok {
			record.RatingInPercents = &pct
		}
	}

	if price, currency, ok := ParsePrice(p.doc.Find(e.sel.LowestPrice).First().Text()); ok {
		record.LowestPrice = &price
		record.Currency = currency
	}

	record.StorePrices = e.offers(p)
	if record.LowestPrice == nil && len(record.StorePrices) > 0 {
		lowest := record.StorePrices[0].Price
		for _, o := range record.StorePrices[1:] {
			if o.Price < lowest {
				lowest = o.Price
			}
		}
		record.LowestPrice = &lowest
	}
	return record, nil
}

func (e *Extractor) offers(p *Page) []crawler.StoreOffer {
	out := []crawler.StoreOffer{}
	p.doc.Find(e.sel.Offers).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		price, _, ok := ParsePrice(s.Find(e.sel.OfferPrice).First().Text())
		if !ok {
			return true
		}
		offer := crawler.StoreOffer{
			StoreName: collapseSpace(s.Find(e.sel.OfferShopName).First().Text()),
			Price:     price,
		}
		if href, ok := s.Find(e.sel.OfferLink).First().Attr("href"); ok {
			if abs, err := p.URL.Parse(strings.TrimSpace(href)); err == nil {
				offer.StoreURL = abs.String()
			}
		}
		if offer.StoreURL == "" {
			return true
		}
		out = append(out, offer)
		return len(out) < e.topOffers
	})
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
