// Package crawler defines the domain types shared by the catalog crawler:
// crawl tasks, product records, the run summary, canonical URL rules, crawl
// budgets, and the small interfaces the worker composes (fetchers, frontier,
// dedup gate, record sinks, blob storage).
package crawler
