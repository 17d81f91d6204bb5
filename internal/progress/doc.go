// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that pipeline runs use to report range and day milestones. It
// batches events on a background goroutine and fans them out to pluggable sinks
// such as Prometheus metrics or the recent-events buffer behind the status API.
package progress
