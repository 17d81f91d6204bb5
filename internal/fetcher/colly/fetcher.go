// Package collyfetcher adapts a colly collector to the schedule.Fetcher
// contract used by the day pipeline.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher issues plain HTTP fetches. Every Fetch builds its own collector
// so request hooks and the robots probe never leak between concurrent
// workers; connections are pooled in the shared transport underneath.
type Fetcher struct {
	cfg  Config
	pool *http.Transport
}

// New builds a Fetcher around a pooled transport.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{cfg: cfg, pool: pooledTransport()}
}

// Fetch retrieves one schedule page. Cancellation reaches the wire through
// the request context, so a canceled ctx aborts the transfer in flight.
func (f *Fetcher) Fetch(ctx context.Context, request schedule.FetchRequest) (schedule.FetchResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	collector, robots := f.newCollector(ctx)

	var (
		result     schedule.FetchResponse
		httpStatus int
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = schedule.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			httpStatus = r.StatusCode
		}
	})

	if err := collector.Visit(request.URL); err != nil {
		if ctx.Err() != nil {
			return schedule.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
		if httpStatus != 0 {
			return schedule.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, &schedule.StatusError{Code: httpStatus})
		}
		return schedule.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	if robots != nil {
		robots.stamp(&result)
	}
	return result, nil
}

// newCollector assembles the per-fetch collector and its transport chain.
// The context injector sits outermost so the robots probe is covered too.
func (f *Fetcher) newCollector(ctx context.Context) (*colly.Collector, *robotsTransport) {
	collector := colly.NewCollector()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var rt http.RoundTripper = f.pool
	var robots *robotsTransport
	if f.cfg.RespectRobots {
		robots = &robotsTransport{next: rt}
		rt = robots
	}
	collector.WithTransport(&ctxTransport{ctx: ctx, next: rt})
	return collector, robots
}

type ctxTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

func pooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
