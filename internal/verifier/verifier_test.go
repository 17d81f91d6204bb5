package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/clock/system"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	storagemem "github.com/JakeFAU/schedule-pipeline/internal/storage/memory"
)

var testLayout = schedule.Layout{Prefix: "data"}

func newVerifier(t *testing.T, client schedule.ExecutionClient, store *storagemem.ObjectStore, cfg Config) *Verifier {
	t.Helper()
	v, err := New(client, store, system.New(), testLayout, cfg, zap.NewNop())
	require.NoError(t, err)
	return v
}

func outcomeJSON(t *testing.T, runID string, dates []string, success bool) json.RawMessage {
	t.Helper()
	outcome := schedule.RangeOutcome{RunID: runID, Success: success}
	for _, d := range dates {
		outcome.Days = append(outcome.Days, schedule.DayOutcome{Date: d, Success: success})
	}
	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	return data
}

func seedEnvelope(t *testing.T, store *storagemem.ObjectStore, date string) {
	t.Helper()
	day, err := schedule.ParseDate(date)
	require.NoError(t, err)
	env := schedule.DayEnvelope{Date: date, GamesFound: true, GamesCount: 1}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), testLayout.DayEnvelope(day), "application/json", data)
	require.NoError(t, err)
}

func TestVerifyUnionsExecutionOutputs(t *testing.T) {
	t.Parallel()

	store := storagemem.NewObjectStore()
	client := &fakeClient{handles: map[string]schedule.ExecutionHandle{
		"exec-1": {
			ID:     "exec-1",
			Status: schedule.ExecutionSucceeded,
			Output: outcomeJSON(t, "run-1", []string{"2023-01-01", "2023-01-02", "2023-01-03"}, true),
		},
		"exec-2": {
			ID:     "exec-2",
			Status: schedule.ExecutionSucceeded,
			Output: outcomeJSON(t, "run-2", []string{"2023-01-04", "2023-01-05", "2023-01-06"}, true),
		},
	}}
	v := newVerifier(t, client, store, Config{})

	report, err := v.Verify(context.Background(), Request{
		Executions: []ExecutionRef{
			{ID: "exec-1", StartDate: "2023-01-01", EndDate: "2023-01-03"},
			{ID: "exec-2", StartDate: "2023-01-04", EndDate: "2023-01-06"},
		},
		StartDate: "2023-01-01",
		EndDate:   "2023-01-06",
	})

	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 6, report.TotalDays)
	assert.Equal(t, 6, report.ProcessedDays)
	assert.Empty(t, report.MissingDays)
}

func TestVerifyThinOutputReadsDescriptor(t *testing.T) {
	t.Parallel()

	store := storagemem.NewObjectStore()
	descriptor := schedule.RangeOutcome{
		RunID: "0195c7a3-58e1-7001-8000-00000000aaaa",
		Days: []schedule.DayOutcome{
			{Date: "2023-02-01", Success: true},
			{Date: "2023-02-02", Success: true},
		},
	}
	data, err := json.Marshal(descriptor)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), testLayout.ResultsDescriptor(descriptor.RunID), "application/json", data)
	require.NoError(t, err)

	thin, err := json.Marshal(schedule.RangeOutcome{RunID: descriptor.RunID, Success: true})
	require.NoError(t, err)
	client := &fakeClient{handles: map[string]schedule.ExecutionHandle{
		"exec-1": {ID: "exec-1", Status: schedule.ExecutionSucceeded, Output: thin},
	}}
	v := newVerifier(t, client, store, Config{})

	report, err := v.Verify(context.Background(), Request{
		Executions: []ExecutionRef{{ID: "exec-1", StartDate: "2023-02-01", EndDate: "2023-02-02"}},
		StartDate:  "2023-02-01",
		EndDate:    "2023-02-02",
	})

	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.ProcessedDays)
}

func TestVerifyFailedExecutionFallsBackToProbe(t *testing.T) {
	t.Parallel()

	store := storagemem.NewObjectStore()
	seedEnvelope(t, store, "2023-03-01")
	seedEnvelope(t, store, "2023-03-03")
	client := &fakeClient{handles: map[string]schedule.ExecutionHandle{
		"exec-1": {ID: "exec-1", Status: schedule.ExecutionFailed, Error: "States.Timeout"},
	}}
	v := newVerifier(t, client, store, Config{})

	report, err := v.Verify(context.Background(), Request{
		Executions: []ExecutionRef{{ID: "exec-1", StartDate: "2023-03-01", EndDate: "2023-03-03"}},
		StartDate:  "2023-03-01",
		EndDate:    "2023-03-03",
	})

	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, 3, report.TotalDays)
	assert.Equal(t, 2, report.ProcessedDays)
	assert.Equal(t, []string{"2023-03-02"}, report.MissingDays)
}

func TestVerifyNoExecutionsProbesStorage(t *testing.T) {
	t.Parallel()

	store := storagemem.NewObjectStore()
	seedEnvelope(t, store, "2023-04-01")
	seedEnvelope(t, store, "2023-04-02")
	v := newVerifier(t, nil, store, Config{})

	report, err := v.Verify(context.Background(), Request{
		StartDate: "2023-04-01",
		EndDate:   "2023-04-02",
	})

	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.ProcessedDays)
}

func TestVerifySpanDerivedFromExecutions(t *testing.T) {
	t.Parallel()

	store := storagemem.NewObjectStore()
	v := newVerifier(t, &fakeClient{}, store, Config{})

	report, err := v.Verify(context.Background(), Request{
		Executions: []ExecutionRef{
			{ID: "a", StartDate: "2023-05-04", EndDate: "2023-05-06"},
			{ID: "b", StartDate: "2023-05-01", EndDate: "2023-05-03"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalDays)
	assert.False(t, report.Success)
	assert.Len(t, report.MissingDays, 6)
}

func TestVerifyRejectsMissingRange(t *testing.T) {
	t.Parallel()

	v := newVerifier(t, nil, storagemem.NewObjectStore(), Config{})

	_, err := v.Verify(context.Background(), Request{})
	require.Error(t, err)

	_, err = v.Verify(context.Background(), Request{StartDate: "2023-06-02", EndDate: "2023-06-01"})
	require.Error(t, err)
}

func TestWaitForExecutionReturnsTerminal(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		handles: map[string]schedule.ExecutionHandle{
			"exec-1": {ID: "exec-1", Status: schedule.ExecutionRunning},
		},
		terminalAfter: 3,
		terminal:      schedule.ExecutionHandle{ID: "exec-1", Status: schedule.ExecutionSucceeded},
	}
	v := newVerifier(t, client, storagemem.NewObjectStore(), Config{
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	})

	handle, err := v.WaitForExecution(context.Background(), "exec-1")

	require.NoError(t, err)
	assert.Equal(t, schedule.ExecutionSucceeded, handle.Status)
	assert.Equal(t, 3, client.calls())
}

func TestWaitForExecutionTimesOut(t *testing.T) {
	t.Parallel()

	client := &fakeClient{handles: map[string]schedule.ExecutionHandle{
		"exec-1": {ID: "exec-1", Status: schedule.ExecutionRunning},
	}}
	v := newVerifier(t, client, storagemem.NewObjectStore(), Config{
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  12 * time.Millisecond,
	})

	handle, err := v.WaitForExecution(context.Background(), "exec-1")

	require.Error(t, err)
	assert.True(t, schedule.IsPollTimeout(err), "expected poll timeout, got %v", err)
	assert.Equal(t, schedule.ExecutionRunning, handle.Status, "last seen handle is returned")

	var pollErr *schedule.PollTimeoutError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, "exec-1", pollErr.ExecutionID)
}

func TestWaitForExecutionHonorsCancel(t *testing.T) {
	t.Parallel()

	client := &fakeClient{handles: map[string]schedule.ExecutionHandle{
		"exec-1": {ID: "exec-1", Status: schedule.ExecutionRunning},
	}}
	v := newVerifier(t, client, storagemem.NewObjectStore(), Config{
		PollInterval: 20 * time.Millisecond,
		PollTimeout:  time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := v.WaitForExecution(ctx, "exec-1")
	require.ErrorIs(t, err, context.Canceled)
}

// --- fakes ---

type fakeClient struct {
	mu            sync.Mutex
	handles       map[string]schedule.ExecutionHandle
	describeCalls int
	terminalAfter int
	terminal      schedule.ExecutionHandle
	err           error
}

func (c *fakeClient) StartExecution(_ context.Context, name string, _ schedule.WorkItem) (schedule.ExecutionHandle, error) {
	return schedule.ExecutionHandle{ID: name, Status: schedule.ExecutionRunning}, nil
}

func (c *fakeClient) DescribeExecution(_ context.Context, id string) (schedule.ExecutionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.describeCalls++
	if c.err != nil {
		return schedule.ExecutionHandle{}, c.err
	}
	if c.terminalAfter > 0 && c.describeCalls >= c.terminalAfter {
		return c.terminal, nil
	}
	handle, ok := c.handles[id]
	if !ok {
		return schedule.ExecutionHandle{}, errors.New("execution not found")
	}
	return handle, nil
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describeCalls
}
