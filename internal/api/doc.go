// Package api serves the shared assistant state over HTTP and WebSocket.
//
// This package provides:
//   - GET/POST /estado, POST /reset and POST /vincular for the record
//   - GET /schema describing each field
//   - A WebSocket hub pushing every committed change to connected clients
//   - Prometheus collectors on /metrics and a JSON summary on /stats
//   - Middleware stack (request ID, logging, recovery, CORS, no-store)
//
// # Security
//
// Writes are gated by a shared secret in the X-API-Key header when the gate
// is enabled. Reads are open. The caller's X-Client header is recorded as
// last_by on every write.
//
// # Graceful Degradation
//
// MQTT, InfluxDB and the audit database are optional. Without them the
// HTTP surface and WebSocket hub work unchanged; /audit answers 503.
package api
