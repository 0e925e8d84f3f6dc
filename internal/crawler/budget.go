package crawler

import "sync/atomic"

// Budget enforces the page and product ceilings of a run. Counters are
// consulted before a task is submitted; work already in the frontier is
// never revoked. A limit of zero means unlimited.
type Budget struct {
	maxPages    int64
	maxProducts int64
	pages       atomic.Int64
	products    atomic.Int64
}

// NewBudget builds a Budget for the given ceilings.
func NewBudget(maxPages, maxProducts int) *Budget {
	return &Budget{maxPages: int64(maxPages), maxProducts: int64(maxProducts)}
}

// TryTakePage reserves one category page fetch.
func (b *Budget) TryTakePage() bool {
	return take(&b.pages, b.maxPages)
}

// TryTakeProduct reserves one product fetch.
func (b *Budget) TryTakeProduct() bool {
	return take(&b.products, b.maxProducts)
}

// Pages returns the number of reserved category pages.
func (b *Budget) Pages() int {
	return int(b.pages.Load())
}

// Products returns the number of reserved product fetches.
func (b *Budget) Products() int {
	return int(b.products.Load())
}

func take(counter *atomic.Int64, limit int64) bool {
	for {
		cur := counter.Load()
		if limit > 0 && cur >= limit {
			return false
		}
		if counter.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}
