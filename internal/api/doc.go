// Package api implements the HTTP API of the access server.
//
// This package provides:
//   - Batch ingestion and catch-up endpoints for audit and access records
//   - Consent ingestion and per-subject history
//   - The retention purge endpoint, protected by the retention key
//   - Health and metrics endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Every route except health, metrics and the purge endpoint sits behind
// the request trust gate. Rejections carry only a code, a generic message
// and the request id; the specific credential failure is logged, never
// returned.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without them the server still ingests,
// serves and purges records; events and metrics are dropped.
package api
