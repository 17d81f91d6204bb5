package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/queue"
	queuemem "github.com/JakeFAU/schedule-pipeline/internal/queue/memory"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

func TestWorkerProcessesTask(t *testing.T) {
	t.Parallel()
	metrics.Init()

	q := queuemem.NewQueue(1)
	reg := &fakeRegistry{}
	runner := func(_ context.Context, item schedule.WorkItem) schedule.RangeOutcome {
		return schedule.RangeOutcome{
			StartDate:     item.StartDate,
			EndDate:       item.EndDate,
			Success:       true,
			TotalDays:     3,
			ProcessedDays: 3,
		}
	}
	w := New(q, runner, reg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	task := queue.Task{ExecutionID: "exec-1", Item: schedule.WorkItem{StartDate: "2023-01-01", EndDate: "2023-01-03"}}
	require.NoError(t, q.Enqueue(ctx, task))

	require.Eventually(t, func() bool {
		return reg.doneCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.Equal(t, []string{"exec-1"}, reg.running)
	require.Len(t, reg.done, 1)
	assert.Equal(t, schedule.ExecutionSucceeded, reg.done[0].status)
	assert.Equal(t, 3, reg.done[0].out.ProcessedDays)
}

func TestWorkerMarksFailedOutcome(t *testing.T) {
	t.Parallel()
	metrics.Init()

	q := queuemem.NewQueue(1)
	reg := &fakeRegistry{}
	runner := func(context.Context, schedule.WorkItem) schedule.RangeOutcome {
		return schedule.RangeOutcome{Success: false, Error: "2 of 3 days failed"}
	}
	w := New(q, runner, reg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, q.Enqueue(ctx, queue.Task{ExecutionID: "exec-2"}))
	require.Eventually(t, func() bool {
		return reg.doneCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, schedule.ExecutionFailed, reg.done[0].status)
	assert.Equal(t, "2 of 3 days failed", reg.done[0].out.Error)
}

func TestWorkerWithoutRunnerFailsTask(t *testing.T) {
	t.Parallel()
	metrics.Init()

	q := queuemem.NewQueue(1)
	reg := &fakeRegistry{}
	w := New(q, nil, reg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, q.Enqueue(ctx, queue.Task{ExecutionID: "exec-3"}))
	require.Eventually(t, func() bool {
		return reg.doneCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, schedule.ExecutionFailed, reg.done[0].status)
	assert.Equal(t, "no runner configured", reg.done[0].out.Error)
	assert.Empty(t, reg.running, "task never entered running")
}

func TestWorkerStopsOnQueueClose(t *testing.T) {
	t.Parallel()
	metrics.Init()

	q := queuemem.NewQueue(1)
	w := New(q, nil, &fakeRegistry{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

// --- fakes ---

type doneCall struct {
	id     string
	status schedule.ExecutionStatus
	out    schedule.RangeOutcome
}

type fakeRegistry struct {
	mu      sync.Mutex
	running []string
	done    []doneCall
}

func (r *fakeRegistry) MarkRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = append(r.running, id)
	return nil
}

func (r *fakeRegistry) MarkDone(_ context.Context, id string, status schedule.ExecutionStatus, out schedule.RangeOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, doneCall{id: id, status: status, out: out})
	return nil
}

func (r *fakeRegistry) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}
