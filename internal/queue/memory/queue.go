// Package memory backs the local engine's queue with a buffered channel.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/schedule-pipeline/internal/queue"
)

// Queue is a bounded in-process queue.Queue implementation.
type Queue struct {
	tasks chan queue.Task
	done  chan struct{}
	once  sync.Once
}

// NewQueue builds a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	return &Queue{
		tasks: make(chan queue.Task, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue blocks until the queue has room, the queue closes, or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, task queue.Task) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return queue.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue blocks for the next task. Once the queue is closed it keeps
// returning buffered tasks until drained, then reports queue.ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (queue.Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.tasks:
			return task, nil
		default:
			return queue.Task{}, queue.ErrClosed
		}
	case <-ctx.Done():
		return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Close stops intake. Safe to call more than once and concurrently with
// Enqueue; senders are turned away instead of panicking.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
