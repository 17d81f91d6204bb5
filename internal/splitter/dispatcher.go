package splitter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Dispatcher starts child executions for fanned-out work items.
type Dispatcher struct {
	client schedule.ExecutionClient
	ids    schedule.IDGenerator
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. The client is the host scheduler
// the children run on; it may be nil, in which case every dispatch
// fails with schedule.ErrMissingTarget.
func NewDispatcher(client schedule.ExecutionClient, ids schedule.IDGenerator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		client: client,
		ids:    ids,
		logger: logger.Named("dispatcher"),
	}
}

// Dispatch starts one child execution per work item, stamping each with
// the parent execution ID. A missing dispatch target aborts before any
// child is started. Other start failures are collected so remaining
// siblings still launch; the joined error reports every failure.
func (d *Dispatcher) Dispatch(ctx context.Context, parentID string, children []schedule.WorkItem) ([]schedule.ExecutionHandle, error) {
	if d.client == nil {
		return nil, fmt.Errorf("dispatch children: %w", schedule.ErrMissingTarget)
	}

	handles := make([]schedule.ExecutionHandle, 0, len(children))
	var failures error
	for _, child := range children {
		child.ParentExecutionID = parentID
		child.IsSubExecution = true

		name, err := d.executionName(child)
		if err != nil {
			return handles, fmt.Errorf("dispatch children: %w", err)
		}

		handle, err := d.client.StartExecution(ctx, name, child)
		if err != nil {
			if errors.Is(err, schedule.ErrMissingTarget) {
				return handles, fmt.Errorf("dispatch children: %w", err)
			}
			metrics.ObserveExecution("dispatch_failed")
			d.logger.Error("failed to start child execution",
				zap.String("name", name),
				zap.String("start_date", child.StartDate),
				zap.String("end_date", child.EndDate),
				zap.Error(err),
			)
			failures = errors.Join(failures, fmt.Errorf("start %s: %w", name, err))
			continue
		}

		metrics.ObserveExecution("dispatched")
		d.logger.Info("dispatched child execution",
			zap.String("execution_id", handle.ID),
			zap.String("name", name),
			zap.String("start_date", child.StartDate),
			zap.String("end_date", child.EndDate),
			zap.String("parent_execution_id", parentID),
		)
		handles = append(handles, handle)
	}
	return handles, failures
}

func (d *Dispatcher) executionName(item schedule.WorkItem) (string, error) {
	suffix := "0"
	if d.ids != nil {
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate execution name: %w", err)
		}
		if len(id) > 8 {
			id = id[:8]
		}
		suffix = id
	}
	return fmt.Sprintf("range-%s-%s-%s", item.StartDate, item.EndDate, suffix), nil
}
