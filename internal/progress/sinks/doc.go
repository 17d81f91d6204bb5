// Package sinks implements concrete progress consumers: Prometheus counters,
// the recent-events ring behind the status API, structured logging, and
// completion fan-out to a message publisher. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
