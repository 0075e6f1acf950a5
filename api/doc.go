// Package api serves the admin HTTP API of an engine: dispatching and
// inspecting entities, retrying or canceling them, managing the dead
// letter queue, streaming status changes as server-sent events, health and
// Prometheus metrics.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /v1/stats
//	GET    /v1/events?topic=
//	GET    /v1/schedules
//	POST   /v1/entities
//	GET    /v1/entities?status=&kind=&limit=&offset=
//	GET    /v1/entities/{id}
//	POST   /v1/entities/{id}/retry
//	POST   /v1/entities/{id}/cancel
//	GET    /v1/dlq?topic=&limit=&offset=
//	GET    /v1/dlq/count
//	POST   /v1/dlq/purge?older_than=
//	GET    /v1/dlq/{id}
//	POST   /v1/dlq/{id}/replay
package api
