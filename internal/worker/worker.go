// Package worker implements the execution loop that drains the task queue
// and runs each work item through the host-supplied runner.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/queue"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Runner executes one work item to completion. The local engine supplies the
// orchestrator's direct-run path here.
type Runner func(ctx context.Context, item schedule.WorkItem) schedule.RangeOutcome

// Registry receives execution lifecycle transitions from workers. The local
// engine's handle store implements it.
type Registry interface {
	MarkRunning(ctx context.Context, executionID string) error
	MarkDone(ctx context.Context, executionID string, status schedule.ExecutionStatus, out schedule.RangeOutcome) error
}

// Worker consumes queued tasks and records their outcomes.
type Worker struct {
	queue    queue.Queue
	runner   Runner
	registry Registry
	logger   *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, runner Runner, registry Registry, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    q,
		runner:   runner,
		registry: registry,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued execution",
			zap.String("execution_id", task.ExecutionID),
			zap.String("start_date", task.Item.StartDate),
			zap.String("end_date", task.Item.EndDate))
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task queue.Task) {
	if w.runner == nil {
		w.logger.Error("no runner configured", zap.String("execution_id", task.ExecutionID))
		w.markDone(ctx, task.ExecutionID, schedule.ExecutionFailed, schedule.RangeOutcome{
			StartDate: task.Item.StartDate,
			EndDate:   task.Item.EndDate,
			Error:     "no runner configured",
		})
		return
	}

	if err := w.registry.MarkRunning(ctx, task.ExecutionID); err != nil {
		w.logger.Error("mark execution running failed",
			zap.String("execution_id", task.ExecutionID),
			zap.Error(err))
		return
	}

	out := w.runner(ctx, task.Item)
	w.markDone(ctx, task.ExecutionID, finalStatus(ctx, out), out)
}

func (w *Worker) markDone(ctx context.Context, id string, status schedule.ExecutionStatus, out schedule.RangeOutcome) {
	if err := w.registry.MarkDone(ctx, id, status, out); err != nil {
		w.logger.Error("mark execution done failed",
			zap.String("execution_id", id),
			zap.Error(err))
	}
}

func finalStatus(ctx context.Context, out schedule.RangeOutcome) schedule.ExecutionStatus {
	switch {
	case ctx.Err() != nil:
		return schedule.ExecutionAborted
	case !out.Success:
		return schedule.ExecutionFailed
	default:
		return schedule.ExecutionSucceeded
	}
}
