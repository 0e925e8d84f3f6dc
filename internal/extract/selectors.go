package extract

// Selectors holds the CSS selectors used against catalog pages. Each value
// may be a selector group ("a.x, a.y"); the first match wins.
type Selectors struct {
	ProductLinks         string
	ProductLinksFallback string
	NextPage             string
	ProductMarkers       string
	Title                string
	RatingCount          string
	RatingPercent        string
	LowestPrice          string
	Offers               string
	OfferShopName        string
	OfferLink            string
	OfferPrice           string
}

// DefaultSelectors matches the current Heureka markup and its legacy layout.
func DefaultSelectors() Selectors {
	return Selectors{
		ProductLinks:         "a.c-product__link, .product-container a.product-name",
		ProductLinksFallback: ".c-product-list__item a",
		NextPage:             "a.c-pagination__link--next, a.next",
		ProductMarkers:       ".c-product-price__price, .c-offer-list",
		Title:                "h1",
		RatingCount:          ".c-review-count__count, .rating-value",
		RatingPercent:        ".c-rating-widget__value, .rating-percent",
		LowestPrice:          ".c-price__price, .price-wrapper",
		Offers:               ".c-offer-list__item, .shops-list .item",
		OfferShopName:        ".c-offer-list__shop-name, .shop-name",
		OfferLink:            "a.c-offer-list__shop-link, a.shop-link, a[href]",
		OfferPrice:           ".c-offer-list__price, .price",
	}
}

// WithDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&s.ProductLinks, d.ProductLinks)
	fill(&s.ProductLinksFallback, d.ProductLinksFallback)
	fill(&s.NextPage, d.NextPage)
	fill(&s.ProductMarkers, d.ProductMarkers)
	fill(&s.Title, d.Title)
	fill(&s.RatingCount, d.RatingCount)
	fill(&s.RatingPercent, d.RatingPercent)
	fill(&s.LowestPrice, d.LowestPrice)
	fill(&s.Offers, d.Offers)
	fill(&s.OfferShopName, d.OfferShopName)
	fill(&s.OfferLink, d.OfferLink)
	fill(&s.OfferPrice, d.OfferPrice)
	return s
}

// WaitSelectors lists the selectors a renderer should wait for on product
// pages, since prices and offers load after the initial document.
func (s Selectors) WaitSelectors() []string {
	return []string{s.LowestPrice, s.Offers}
}
