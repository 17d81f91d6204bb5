// Package ratelimit paces outbound fetches per host so a range run never
// hammers one facility site.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
)

// Config holds the default pacing applied to every host.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// Limiter lazily builds one token bucket per host. An RPS of zero or less
// disables pacing entirely.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	rps := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		rps = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rps: rps, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

// Wait blocks until the host's bucket grants a token or ctx ends. Delays
// longer than a millisecond are recorded per host; instant grants are not.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	b = rate.NewLimiter(l.rps, l.burst)
	l.buckets[host] = b
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
