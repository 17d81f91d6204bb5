package schedule

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"
)

// Retry pacing bounds.
const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// ExponentialRetryPolicy implements RetryPolicy with jittered exponential
// backoff and status-aware failure classification.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy capped at maxAttempts total
// attempts; values below one fall back to the default of three.
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   retryBaseDelay,
		maxDelay:    retryMaxDelay,
	}
}

// ShouldRetry reports whether the failed attempt is worth repeating.
// Cancellation, missing pages and client errors are final; rate limiting,
// server errors and network timeouts are treated as transient.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return transient(err)
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusRequestTimeout ||
			status.Code == http.StatusTooManyRequests ||
			status.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the pause before the next attempt: exponential growth from
// the base delay up to the cap, with the upper half of the window randomized.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	capped := min(float64(p.baseDelay)*math.Pow(2, float64(attempt)), float64(p.maxDelay))
	half := time.Duration(capped) / 2
	return half + randomJitter(half)
}

// randomJitter draws a uniform duration in [0, limit).
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
