// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and live run summaries in the run store.
package sinks
