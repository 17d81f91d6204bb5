package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

func TestClientStartExecution(t *testing.T) {
	t.Parallel()

	started := time.Date(2023, 2, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/executions", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body startRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "range-2023-02-01-2023-02-03", body.Name)
		assert.Equal(t, "2023-02-01", body.Input.StartDate)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(schedule.ExecutionHandle{
			ID:        "exec-42",
			Name:      body.Name,
			StartDate: body.Input.StartDate,
			EndDate:   body.Input.EndDate,
			Status:    schedule.ExecutionRunning,
			StartedAt: started,
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)

	handle, err := client.StartExecution(context.Background(), "range-2023-02-01-2023-02-03", schedule.WorkItem{
		StartDate: "2023-02-01",
		EndDate:   "2023-02-03",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-42", handle.ID)
	assert.Equal(t, schedule.ExecutionRunning, handle.Status)
	assert.Equal(t, started, handle.StartedAt)
}

func TestClientStartExecutionErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.StartExecution(context.Background(), "range-x", schedule.WorkItem{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.Contains(t, err.Error(), "backend down")
}

func TestClientStartExecutionRequiresID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.StartExecution(context.Background(), "range-x", schedule.WorkItem{})
	require.ErrorContains(t, err, "response carried no execution id")
}

func TestClientDescribeExecution(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/executions/exec-42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(schedule.ExecutionHandle{
			ID:     "exec-42",
			Status: schedule.ExecutionSucceeded,
			Output: json.RawMessage(`{"success":true,"processed_days":3}`),
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	handle, err := client.DescribeExecution(context.Background(), "exec-42")
	require.NoError(t, err)
	assert.Equal(t, schedule.ExecutionSucceeded, handle.Status)

	var out schedule.RangeOutcome
	require.NoError(t, json.Unmarshal(handle.Output, &out))
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.ProcessedDays)
}

func TestClientDescribeExecutionNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such execution", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.DescribeExecution(context.Background(), "exec-gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.ErrorContains(t, err, "base URL is required")
}
