package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/schedule-pipeline/internal/progress"
)

const defaultRecentCapacity = 256

// RecentSink keeps the newest events in a fixed-size ring so the status API
// can report what the pipeline has been doing without a durable store.
type RecentSink struct {
	mu   sync.RWMutex
	buf  []progress.Event
	next int
	full bool
}

// NewRecentSink creates a ring holding up to capacity events (256 when
// capacity is non-positive).
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentSink{buf: make([]progress.Event, capacity)}
}

// Consume appends the batch, evicting the oldest events once the ring wraps.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next++
		if s.next == len(s.buf) {
			s.next = 0
			s.full = true
		}
	}
	return nil
}

// Snapshot returns the retained events oldest first.
func (s *RecentSink) Snapshot() []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.full {
		return append([]progress.Event(nil), s.buf[:s.next]...)
	}
	out := make([]progress.Event, 0, len(s.buf))
	out = append(out, s.buf[s.next:]...)
	out = append(out, s.buf[:s.next]...)
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
