// Package otel binds oidcguard counters and the consume latency histogram to
// OpenTelemetry observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per guard counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [oidcguard.Guard.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate guard state.
package otel
