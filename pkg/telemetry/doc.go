// Package telemetry provides structured logging, metrics, and tracing for
// the worker process. Logging wraps zerolog; metrics are Prometheus
// collectors behind an optional HTTP listener; tracing is the OpenTelemetry
// API with the host-supplied trace context attached to each invocation span.
//
// Records destined for the host travel separately: the invocation executor
// forwards per-invocation log records over the session as they are emitted.
// This package only covers the worker's own observability.
package telemetry
