package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes hub buffering. Zero values fall back to the package defaults.
type Config struct {
	// BufferSize is the queue capacity; Emit drops events once it is full.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it reaches this size.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout is the per-sink deadline for consuming one batch.
	SinkTimeout time.Duration
	// BaseContext is the parent context for sink calls.
	BaseContext context.Context
	// Logger receives drop and sink-failure warnings.
	Logger *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropReportEvery       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans run and day events out to the configured sinks in batches.
// Emit never blocks the scrape path: when the queue is full, events are
// counted and dropped instead.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closing  atomic.Bool
	dropped  atomic.Int64
	lastDrop atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the collector goroutine and returns a hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.collect()
	return h
}

// Emit queues an event for delivery. Invalid events are discarded, and a
// full queue drops the event rather than stalling the emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.noteDrop()
	}
}

// noteDrop counts a dropped event and logs the running total at most once
// per dropReportEvery.
func (h *Hub) noteDrop() {
	h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDrop.Load()
	if now-last < dropReportEvery.Nanoseconds() {
		return
	}
	if h.lastDrop.CompareAndSwap(last, now) {
		h.logger.Warn("progress queue full, events dropped", zap.Int64("dropped", h.dropped.Swap(0)))
	}
}

// Close stops intake, drains queued events through the sinks, closes the
// sinks, and waits for the collector to exit. Repeat calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// collect is the sole consumer of the queue. A nil flushC means no partial
// batch is waiting on the timer.
func (h *Hub) collect() {
	defer close(h.done)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var flushT *time.Timer
	var flushC <-chan time.Time

	disarm := func() {
		if flushT != nil {
			flushT.Stop()
			flushT, flushC = nil, nil
		}
	}

	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
				disarm()
			} else if flushC == nil {
				flushT = time.NewTimer(h.cfg.MaxBatchWait)
				flushC = flushT.C
			}
		case <-flushC:
			flushT, flushC = nil, nil
			if len(pending) > 0 {
				h.deliver(pending)
				pending = pending[:0]
			}
		case <-h.quit:
			disarm()
			h.drain(pending)
			return
		}
	}
}

// drain empties whatever is still queued, flushes it, and closes the sinks.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			if len(pending) > 0 {
				h.deliver(pending)
			}
			h.shutdownSinks()
			return
		}
	}
}

// deliver hands one batch to every sink, each under its own timeout. Sink
// errors are logged and never interrupt delivery to the remaining sinks.
func (h *Hub) deliver(batch []Event) {
	out := append([]Event(nil), batch...)
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := s.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink rejected batch", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) shutdownSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
