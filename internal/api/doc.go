// Package api hosts the read-only HTTP server for published inventories.
// Notable routes:
//   - GET /healthz / readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/inventory for the latest (or a dated) snapshot.
//   - GET /v1/items for filtered items of the latest snapshot.
//   - GET /v1/breweries and /v1/breweries/{id} for per-brewery views.
//   - GET /v1/runs/latest for the last recorded run summary.
package api
