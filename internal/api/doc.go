// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a run (409 while one is in progress).
//   - GET /v1/runs/current for the live status and badge.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/items for history.
//   - GET /v1/runs/{run_id}/items/{asin}/record for the archived item document.
package api
