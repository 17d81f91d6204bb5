package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

const tlsTimeoutReason = "TLS handshake timeout"

var probeBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries the robots.txt probe through transient TLS
// timeouts. Once every attempt has timed out it substitutes an allow-all
// policy and records the fetch as indeterminate instead of failing the day.
type robotsTransport struct {
	next    http.RoundTripper
	backoff []time.Duration
	status  schedule.RobotsStatus
	reason  string
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}
	return t.probe(req)
}

func (t *robotsTransport) probe(req *http.Request) (*http.Response, error) {
	backoff := t.backoff
	if backoff == nil {
		backoff = probeBackoff
	}
	attempts := len(backoff) + 1
	for i := 0; i < attempts; i++ {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !timeoutError(err) {
			return nil, fmt.Errorf("robots probe: %w", err)
		}
		if i == attempts-1 {
			break
		}
		if err := waitBackoff(req.Context(), backoff[i]); err != nil {
			return nil, err
		}
	}
	t.giveUp()
	return allowAll(req), nil
}

// giveUp marks the probe indeterminate. Repeat calls keep the first reason.
func (t *robotsTransport) giveUp() {
	if t.status == schedule.RobotsStatusIndeterminate {
		return
	}
	t.status = schedule.RobotsStatusIndeterminate
	t.reason = tlsTimeoutReason
	metrics.ObserveProbeTLSHandshakeTimeout()
}

// stamp copies the probe outcome onto the finished response.
func (t *robotsTransport) stamp(resp *schedule.FetchResponse) {
	if t == nil || resp == nil || t.status == schedule.RobotsStatusUnknown {
		return
	}
	resp.RobotsStatus = t.status
	resp.RobotsReason = t.reason
}

func allowAll(req *http.Request) *http.Response {
	const policy = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(policy)),
		ContentLength: int64(len(policy)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func timeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots probe backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
