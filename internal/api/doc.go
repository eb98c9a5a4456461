// Package api hosts the read-only status server for a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoints for the per-stream resume markers.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
//   - GET /v1/canonical for a summary of the merged dataset.
package api
