// Package queue defines the bounded task queue between execution intake and
// the local worker pool.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Task pairs a work item with the execution identity it runs under.
type Task struct {
	ExecutionID string
	Item        schedule.WorkItem
}

// Queue moves tasks from StartExecution to the workers. Implementations are
// bounded; Enqueue blocks until space frees or the context ends.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close()
}

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")
