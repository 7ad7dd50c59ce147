// Package prometheus exposes phiguard engine metrics through client_golang.
//
// [PrometheusExporter] implements prometheus.Collector. Register it on a
// registry you own, or mount [PrometheusExporter.Handler] which serves a
// private one. Counters are named phiguard_*_total; the session validation
// and access check latencies are histograms in seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
