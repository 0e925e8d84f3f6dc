// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a crawl, POST /v1/crawls/{run_id}/cancel to stop it.
//   - GET /v1/crawls, /v1/crawls/{run_id} and /v1/crawls/{run_id}/records for
//     run status, live summaries and retained product records.
package api
