// Package progress carries crawl progress events from workers to sinks.
// Workers emit through a non-blocking Hub, which batches on a background
// goroutine and fans batches out to logging, Prometheus and run-store sinks.
package progress
