// Package api hosts the operator HTTP endpoint that runs alongside a batch:
//   - GET /healthz for liveness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the live state of the current batch.
package api
