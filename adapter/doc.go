// Package adapter connects a shared space to external monitoring systems:
// HTTP health probes and OpenTelemetry tracing and metrics.
package adapter
