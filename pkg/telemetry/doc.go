// Package telemetry wires zerolog logging, OpenTelemetry tracing and
// Prometheus metrics for the provisio CLI.
//
// Metrics are not served over HTTP: the CLI is short-lived, so the registry
// is written once per run to a textfile that node_exporter's textfile
// collector can pick up. Tracing defaults to the "none" exporter; "stdout"
// writes spans to stderr and "otlp" ships them to a gRPC collector.
package telemetry
