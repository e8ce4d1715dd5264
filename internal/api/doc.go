// Package api hosts the optional status server that runs next to a harvest.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /checkpoint for the units completed so far.
//   - GET /progress for the latest run snapshot.
//   - GET /v1/runs and /v1/runs/{run_id} for run history when Postgres is configured.
package api
