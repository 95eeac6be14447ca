// Package otel provides OpenTelemetry bindings for an engine's lifecycle and counters.
//
// [NewOTelExporter] registers observable gauges for the engine's state (attributes "kind"
// and "state"), whether it is authenticated, the seconds left before refresh and the bulk
// busy flag, plus one observable counter per goCred counter and a bucket gauge labelled by
// "le" for the request latency histogram. A single callback reads [goCred.Engine.Status] and
// [goCred.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
