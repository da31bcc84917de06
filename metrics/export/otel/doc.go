// Package otel binds authcore metrics to OpenTelemetry observable
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and,
// per latency histogram, one Int64ObservableGauge per cumulative bucket plus
// count and sum gauges. A single callback reads the engine snapshot on each
// collection. Callers own the MeterProvider.
package otel
