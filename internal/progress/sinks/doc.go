// Package sinks implements the run stream consumers: structured logs,
// Prometheus collectors, run history, the live status board and outcome
// notifications. Each satisfies progress.Sink.
package sinks
