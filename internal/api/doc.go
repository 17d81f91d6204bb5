// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes (readyz pings the ledger).
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/pipeline and /v1/verify for invocations.
//   - GET /v1/ledger/{date} and /v1/progress for inspection.
//   - POST /v1/executions and GET /v1/executions/{id} so a peer instance can
//     dispatch range chunks here.
package api
