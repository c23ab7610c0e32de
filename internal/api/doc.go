// Package api hosts the HTTP server, middleware, and handlers for the archive.
// Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - GET /api/newsletters (paging, search, rss, embed) for readers.
//   - POST /api/subscriptions and PUT /api/subscriptions/settings for Web Push.
//   - POST /api/admin/... for manual ingestion, guarded by X-API-Key when auth is on.
package api
