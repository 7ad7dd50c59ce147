// Package otel reports phiguard engine counters and latency histograms
// through OpenTelemetry asynchronous instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per cumulative histogram bucket. One callback
// reads [phiguard.Engine.MetricsSnapshot] per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
