// Package api hosts the HTTP status server and its middleware. Notable routes:
//   - GET /healthz / readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoints (optionally ?status=) and /v1/checkpoints/stats for
//     crawl progress.
//   - GET /v1/checkpoints/{vehicle_id}/{group_id} for a single unit.
package api
