// Package dispatcher couples the task queue to the worker pool and owns the
// pool's lifecycle.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/queue"
	"github.com/JakeFAU/schedule-pipeline/internal/worker"
)

// Dispatcher feeds queued range tasks to a fixed pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New wires the queue to the pool.
func New(q queue.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run launches the pool and blocks until the context ends and every worker
// exits. The queue is closed on the way out so late enqueues are refused.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Debug("worker pool starting", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	wg.Add(len(d.workers))
	for _, w := range d.workers {
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	<-ctx.Done()
	d.queue.Close()
	wg.Wait()
	d.logger.Debug("worker pool stopped")
}

// Enqueue hands a task to the next free worker.
func (d *Dispatcher) Enqueue(ctx context.Context, task queue.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
