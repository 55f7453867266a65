// Package api hosts the status server that runs beside a harvest. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the live run report and pool occupancy.
package api
