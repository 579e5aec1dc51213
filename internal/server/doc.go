// Package server implements the HTTP surface of msgbox.
//
// This package provides:
//   - POST /webhook: signed message ingestion through internal/pipeline
//   - GET /messages and GET /stats: read access to stored messages
//   - GET /health/live, GET /health/ready and GET /metrics
//
// Every request passes through the observe middleware, which assigns an
// X-Request-ID, attaches a pipeline.Trace to the request context and emits
// exactly one access log line plus the Prometheus request metrics once the
// handler returns, including when it panics.
//
// Request limits:
//   - Payload size limit (1MB max, 413 above)
//   - Optional per-IP rate limit on the webhook (429)
package server
