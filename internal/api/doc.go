// Package api hosts the operations HTTP surface of the crawler. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl and /v1/crawl/{author} to start a session now; 409 while
//     another crawl is in flight.
//   - POST /v1/analyze/pending to re-analyze stored posts.
//   - GET /v1/status and /v1/sessions for the lock holder and audit history.
package api
