// Package telemetry configures OpenTelemetry tracing and metrics for
// chatindex.
//
// New installs OTLP tracer and meter providers as the otel globals so that
// instrumented packages (reindex, engine, http) need no explicit wiring.
// Exporter failures degrade telemetry instead of failing startup.
package telemetry
