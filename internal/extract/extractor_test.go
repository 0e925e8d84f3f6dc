package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const categoryPage = `<html><head><title>Mobilní telefony | Heureka.cz</title></head><body>
<ul class="c-product-list">
  <li class="c-product-list__item"><a class="c-product__link" href="/apple-iphone-15/">iPhone 15</a></li>
  <li class="c-product-list__item"><a class="c-product__link" href="https://mobilni-telefony.heureka.cz/samsung-galaxy-s24/?utm_source=list">Galaxy S24</a></li>
  <li class="c-product-list__item"><a class="c-product__link" href="/apple-iphone-15/#reviews">iPhone 15 again</a></li>
  <li class="c-product-list__item"><a class="c-product__link" href="https://partner.example.com/ad">Sponsored</a></li>
  <li class="c-product-list__item"><a class="c-product__link">No href</a></li>
</ul>
%s
</body></html>`

const productPage = `<html><head><title>Apple iPhone 15 | Heureka.cz</title></head><body>
<h1>  Apple iPhone 15
  128GB Black </h1>
<div class="c-review-count__count">1 024 recenzí</div>
<div class="c-rating-widget__value">92 %%</div>
<div class="c-product-price__price"><span class="c-price__price">od 18 990 Kč</span></div>
<ul class="c-offer-list">%s</ul>
</body></html>`

func offerItem(shop string, price string) string {
	return fmt.Sprintf(`<li class="c-offer-list__item">
<span class="c-offer-list__shop-name">%s</span>
<a class="c-offer-list__shop-link" href="/exit/%s">Do obchodu</a>
<span class="c-offer-list__price">%s</span></li>`, shop, strings.ToLower(shop), price)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestExtractor() *Extractor {
	return New(Selectors{}, Options{Clock: fixedClock{now: time.Unix(1700000000, 0).UTC()}})
}

func load(t *testing.T, e *Extractor, pageURL, body string) *Page {
	t.Helper()
	p, err := e.Load(pageURL, []byte(body))
	require.NoError(t, err)
	return p
}

func TestDiscoverWithoutNextLink(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	p := load(t, e, "https://mobilni-telefony.heureka.cz/", fmt.Sprintf(categoryPage, ""))

	got := e.Discover(p)
	require.Equal(t, []string{
		"https://mobilni-telefony.heureka.cz/apple-iphone-15",
		"https://mobilni-telefony.heureka.cz/samsung-galaxy-s24",
	}, got.Products)
	require.Empty(t, got.Next)
	require.Equal(t, crawler.TaskCategory, e.Classify(p))
}

func TestDiscoverExactCountWithoutNext(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, `<a class="c-product__link" href="/product-%d/">p</a>`, i)
	}
	e := newTestExtractor()
	p := load(t, e, "https://pocitace.heureka.cz/", "<html><body>"+b.String()+"</body></html>")

	got := e.Discover(p)
	require.Len(t, got.Products, 7)
	require.Empty(t, got.Next)
}

func TestDiscoverFollowsNextLink(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	next := `<a class="c-pagination__link--next" href="?f=2&utm_medium=pager">Další</a>`
	p := load(t, e, "https://mobilni-telefony.heureka.cz/", fmt.Sprintf(categoryPage, next))

	got := e.Discover(p)
	require.Equal(t, "https://mobilni-telefony.heureka.cz/?f=2", got.Next)
}

func TestDiscoverMalformedNextIsLastPage(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	for _, next := range []string{
		`<a class="c-pagination__link--next">Další</a>`,
		`<a class="c-pagination__link--next" href="javascript:void(0)">Další</a>`,
		`<a class="c-pagination__link--next" href="">Další</a>`,
		`<a class="c-pagination__link--next" href="https://mobilni-telefony.heureka.cz/?f=3">Další</a>`,
		`<a class="next" href="https://elsewhere.example.org/?f=2">Další</a>`,
	} {
		p := load(t, e, "https://mobilni-telefony.heureka.cz/?f=3", fmt.Sprintf(categoryPage, next))
		require.Empty(t, e.Discover(p).Next, next)
	}
}

func TestDiscoverEmptyCategory(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	p := load(t, e, "https://prazdna.heureka.cz/", "<html><body><p>Nic</p></body></html>")

	got := e.Discover(p)
	require.Empty(t, got.Products)
	require.Empty(t, got.Next)
}

func TestDiscoverUsesFallbackSelector(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	body := `<html><body><div class="c-product-list__item"><a href="/legacy-product">x</a></div></body></html>`
	p := load(t, e, "https://legacy.heureka.cz/", body)

	require.Equal(t, []string{"https://legacy.heureka.cz/legacy-product"}, e.Discover(p).Products)
}

func TestExtractFullRecord(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	offers := offerItem("Alza", "18 990 Kč") + offerItem("CZC", "19 290 Kč")
	p := load(t, e, "https://mobilni-telefony.heureka.cz/apple-iphone-15/?ref=home", fmt.Sprintf(productPage, offers))
	require.Equal(t, crawler.TaskProduct, e.Classify(p))

	rec, err := e.Extract(p)
	require.NoError(t, err)
	require.Equal(t, "Apple iPhone 15 128GB Black", rec.Title)
	require.Equal(t, "https://mobilni-telefony.heureka.cz/apple-iphone-15", rec.URL)
	require.Equal(t, 1024, rec.NumberOfRatings)
	require.NotNil(t, rec.RatingInPercents)
	require.InDelta(t, 92.0, *rec.RatingInPercents, 0.001)
	require.NotNil(t, rec.LowestPrice)
	require.InDelta(t, 18990.0, *rec.LowestPrice, 0.001)
	require.Equal(t, "CZK", rec.Currency)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), rec.CrawledAt)
	require.Equal(t, []crawler.StoreOffer{
		{StoreName: "Alza", StoreURL: "https://mobilni-telefony.heureka.cz/exit/alza", Price: 18990},
		{StoreName: "CZC", StoreURL: "https://mobilni-telefony.heureka.cz/exit/czc", Price: 19290},
	}, rec.StorePrices)
}

func TestExtractNoReviews(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	body := `<html><body><h1>Nový produkt</h1><span class="c-price__price">499 Kč</span></body></html>`
	p := load(t, e, "https://hracky.heureka.cz/novy-produkt/", body)

	rec, err := e.Extract(p)
	require.NoError(t, err)
	require.Equal(t, 0, rec.NumberOfRatings)
	require.Nil(t, rec.RatingInPercents)
	require.NotNil(t, rec.StorePrices)
	require.Empty(t, rec.StorePrices)
}

func TestExtractCapsOffersInDisplayOrder(t *testing.T) {
	t.Parallel()

	var offers strings.Builder
	for i := 0; i < 9; i++ {
		offers.WriteString(offerItem(fmt.Sprintf("Shop%d", i), fmt.Sprintf("%d Kč", 1000+i*10)))
	}
	e := newTestExtractor()
	p := load(t, e, "https://mobilni-telefony.heureka.cz/x/", fmt.Sprintf(productPage, offers.String()))

	rec, err := e.Extract(p)
	require.NoError(t, err)
	require.Len(t, rec.StorePrices, DefaultTopOffers)
	for i := 1; i < len(rec.StorePrices); i++ {
		require.LessOrEqual(t, rec.StorePrices[i-1].Price, rec.StorePrices[i].Price)
	}
	require.Equal(t, "Shop0", rec.StorePrices[0].StoreName)

	small := New(Selectors{}, Options{TopOffers: 2})
	rec, err = small.Extract(load(t, small, "https://mobilni-telefony.heureka.cz/x/", fmt.Sprintf(productPage, offers.String())))
	require.NoError(t, err)
	require.Len(t, rec.StorePrices, 2)
}

func TestExtractSkipsUnpricedOffersAndFallsBackToOfferMinimum(t *testing.T) {
	t.Parallel()

	body := `<html><body><h1>Kolo</h1><ul class="c-offer-list">` +
		offerItem("A", "Vyprodáno") + offerItem("B", "7 490 Kč") + offerItem("C", "6 990 Kč") +
		`</ul></body></html>`
	e := newTestExtractor()
	rec, err := e.Extract(load(t, e, "https://kola.heureka.cz/kolo/", body))
	require.NoError(t, err)
	require.Len(t, rec.StorePrices, 2)
	require.NotNil(t, rec.LowestPrice)
	require.InDelta(t, 6990.0, *rec.LowestPrice, 0.001)
}

func TestExtractSkipsOffersWithoutStoreLink(t *testing.T) {
	t.Parallel()

	unlinked := `<li class="c-offer-list__item">
<span class="c-offer-list__shop-name">Datart</span>
<span class="c-offer-list__price">5 990 Kč</span></li>`
	body := `<html><body><h1>Kolo</h1><ul class="c-offer-list">` +
		unlinked + offerItem("B", "7 490 Kč") +
		`</ul></body></html>`
	e := newTestExtractor()
	rec, err := e.Extract(load(t, e, "https://kola.heureka.cz/kolo/", body))
	require.NoError(t, err)
	require.Len(t, rec.StorePrices, 1)
	require.Equal(t, "B", rec.StorePrices[0].StoreName)
	require.Equal(t, "https://kola.heureka.cz/exit/b", rec.StorePrices[0].StoreURL)
}

func TestExtractMissingTitleFails(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	p := load(t, e, "https://mobilni-telefony.heureka.cz/broken/", `<html><body><span class="c-price__price">1 Kč</span></body></html>`)

	_, err := e.Extract(p)
	require.Error(t, err)
	require.True(t, errors.Is(err, crawler.ErrExtraction))
}

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	blocked := load(t, e, "https://heureka.cz/", `<html><head><title>Just a moment...</title></head></html>`)
	require.ErrorIs(t, e.DetectBlock(blocked), crawler.ErrBlocked)

	ok := load(t, e, "https://heureka.cz/", fmt.Sprintf(categoryPage, ""))
	require.NoError(t, e.DetectBlock(ok))
}

func TestWaitSelectors(t *testing.T) {
	t.Parallel()

	sel := DefaultSelectors()
	require.Equal(t, []string{sel.LowestPrice, sel.Offers}, sel.WaitSelectors())
}
