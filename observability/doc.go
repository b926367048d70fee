// Package observability provides an OpenTelemetry lifecycle counters
// extension. MetricsExtension implements the ext hooks to count jobs
// entering each lifecycle stage per queue and job type.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
