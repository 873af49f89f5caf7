// Package http serves the migrator's operational endpoints while a command
// runs:
//   - GET /metrics: Prometheus metrics from the run's collector.
//   - GET /healthz: liveness probe returning {"status":"ok"}.
//   - GET /status: executed, pending and unknown migration names as JSON,
//     computed from the storage backend on every request.
package http
