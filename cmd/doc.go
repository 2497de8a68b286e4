// Package cmd implements the frameingest command line.
//
// Architecture overview:
//   - HTTP ingress: internal/api.Server accepts POST / and POST /v1/frames. The body is handed to the ingestor, which
//     decodes it (fixed or length-prefixed batch mode) and pushes every frame onto the queue, then the handler
//     answers "OK" without waiting for persistence.
//   - Queue: internal/queue/memory holds at most queue.capacity frames. A push into a full queue evicts the oldest
//     resident frame; evictions are counted and logged at a bounded rate.
//   - Persistence: a fixed pool of workers (internal/dispatcher, internal/worker) pops frames, encodes them as
//     PNG/JPEG or compressed raw pixels, and writes each one under a unique timestamp+sequence name to the configured
//     store (local disk, GCS, MinIO or memory). Artifacts are optionally indexed in Postgres and announced on
//     Pub/Sub or AMQP.
//   - Configuration & plumbing: Viper populates config from env (FRAMES_*) and files; zap provides structured
//     logging; Prometheus metrics are served on /metrics; OpenTelemetry spans wrap each persistence.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM flips /readyz to 503, stops the HTTP listener, closes the queue, and lets workers
//     drain the remaining frames within shutdown.drain_timeout before closing outbound clients.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT).
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml (or rely solely on env overrides).
//   - Smoke test: go run . send --url http://localhost:8443/v1/frames frame1.raw frame2.raw
package cmd
