package progress

import "context"

// Sink receives flushed event batches. Consume runs on the hub's collector
// goroutine, one sink at a time and in emit order; a returned error is
// logged and the batch is not redelivered. The slice is detached from hub
// state but shared across sinks, so a sink that retains it must treat it as
// read-only. Close runs once, during hub shutdown, after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side handed to the pipeline and orchestrator. Emit
// never blocks; the hub satisfies it and tests substitute recorders.
type Emitter interface {
	Emit(evt Event)
}
