// Package observability provides an OpenTelemetry metrics extension for
// infinitic. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for dispatches, retries, status transitions,
// terminations, discarded messages, write conflicts and dead letters.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
