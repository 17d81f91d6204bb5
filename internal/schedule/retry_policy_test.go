package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net op failed" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return e.timeout }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)

	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"generic failure", errors.New("boom"), 1, true},
		{"last allowed attempt", errors.New("boom"), 2, true},
		{"attempts exhausted", errors.New("boom"), 3, false},
		{"canceled", context.Canceled, 1, false},
		{"deadline exceeded", context.DeadlineExceeded, 1, false},
		{"missing page", fmt.Errorf("lookup: %w", ErrNotFound), 1, false},
		{"net timeout", timeoutErr{timeout: true}, 1, true},
		{"net permanent", timeoutErr{timeout: false}, 1, false},
		{"status 404", fmt.Errorf("fetch: %w", &StatusError{Code: http.StatusNotFound}), 1, false},
		{"status 408", fmt.Errorf("fetch: %w", &StatusError{Code: http.StatusRequestTimeout}), 1, true},
		{"status 429", fmt.Errorf("fetch: %w", &StatusError{Code: http.StatusTooManyRequests}), 1, true},
		{"status 500", fmt.Errorf("fetch: %w", &StatusError{Code: http.StatusInternalServerError}), 1, true},
		{"status 503", fmt.Errorf("fetch: %w", &StatusError{Code: http.StatusServiceUnavailable}), 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(10)

	for attempt := 0; attempt < 8; attempt++ {
		ceil := 250 * time.Millisecond << uint(attempt)
		if ceil > 5*time.Second {
			ceil = 5 * time.Second
		}

		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, ceil/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, ceil, "attempt %d", attempt)
	}
}

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0)
	assert.True(t, p.ShouldRetry(errors.New("x"), 2))
	assert.False(t, p.ShouldRetry(errors.New("x"), 3))
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	assert.EqualError(t, &StatusError{Code: 503}, "status 503 Service Unavailable")
	assert.EqualError(t, &StatusError{Code: 599}, "status 599")
}

func TestPollTimeoutErrorDistinct(t *testing.T) {
	t.Parallel()

	err := error(&PollTimeoutError{ExecutionID: "exec-1", Waited: time.Hour})
	assert.True(t, IsPollTimeout(err))
	assert.Contains(t, err.Error(), "exec-1")
	assert.False(t, IsPollTimeout(errors.New("FAILED")))

	wrapped := errors.Join(errors.New("verify"), err)
	assert.True(t, IsPollTimeout(wrapped))
}
