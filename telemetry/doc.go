// Package telemetry provides optional instrumentation for the turn engine:
// Prometheus counters/histograms (Metrics) and OpenTelemetry tracing spans
// (Tracer) for the turn loop's major steps. Both are nil-safe — an engine
// constructed without a Metrics or Tracer runs exactly as if instrumentation
// didn't exist, mirroring aixgo's optional internal/observability pattern.
package telemetry
