// Package api hosts the HTTP ingress server and its operator endpoints.
// Notable routes:
//   - POST /v1/frames (and the legacy POST /) accept a raw frame payload and reply "OK".
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats and /v1/artifacts for queue diagnostics and recent artifacts.
//   - GET /v1/artifacts/{artifact_id} for a single artifact record.
package api
