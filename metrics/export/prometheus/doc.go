// Package prometheus exposes oidcguard metrics to Prometheus.
//
// Two paths are offered. [Exporter] renders the text exposition format
// directly and serves it from an [http.Handler]. [Collector] implements the
// client_golang prometheus.Collector interface for applications that already
// run a registry. Counter names are prefixed oidcguard_ and end in _total; the
// single histogram is oidcguard_consume_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     Collector or mount the Handler.
//   - Mutate guard state.
package prometheus
