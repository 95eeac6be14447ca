// Package prometheus renders an engine's lifecycle and counters in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goCred.Engine] and exposes an [http.Handler]. Each
// render publishes gocred_state{kind,state} as a one-hot gauge, gocred_authenticated{kind},
// gocred_token_ttl_seconds{kind} and gocred_busy. While metrics are enabled it adds the
// gocred_*_total counters and the gocred_request_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
