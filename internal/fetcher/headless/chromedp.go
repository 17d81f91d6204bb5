// Package headless contains fetchers that render JavaScript with a browser.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

const (
	defaultNavTimeout = 45 * time.Second
	renderSettle      = 500 * time.Millisecond
)

// Config controls the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector names the element whose appearance marks a finished
	// render, typically the schedule grid. Empty waits for body readiness
	// plus a settle delay.
	WaitSelector string
}

// Fetcher renders pages in headless Chrome for sites whose schedule grid
// only exists after script execution.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	stopBrowser context.CancelFunc
}

// NewChromedp builds the fetcher and its shared Chrome allocator.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocator, stop := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocator, stopBrowser: stop}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close tears down the browser allocator.
func (f *Fetcher) Close() {
	f.stopBrowser()
}

// Fetch renders request.URL in a fresh tab and returns the post-script DOM.
func (f *Fetcher) Fetch(ctx context.Context, request schedule.FetchRequest) (schedule.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return schedule.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	var doc docMeta
	chromedp.ListenTarget(tabCtx, doc.onEvent)

	var (
		html     string
		finalURL string
	)
	start := time.Now()
	if err := chromedp.Run(tabCtx, f.renderTasks(request, &html, &finalURL)...); err != nil {
		return schedule.FetchResponse{}, fmt.Errorf("headless render %s: %w", request.URL, err)
	}

	resp := schedule.FetchResponse{
		URL:          request.URL,
		StatusCode:   http.StatusOK,
		Headers:      http.Header{},
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if finalURL != "" {
		resp.URL = finalURL
	}
	doc.fill(&resp)
	return resp, nil
}

// renderTasks builds the CDP action list for one fetch.
func (f *Fetcher) renderTasks(request schedule.FetchRequest, html, finalURL *string) []chromedp.Action {
	var wait chromedp.Action
	if f.cfg.WaitSelector != "" {
		wait = chromedp.WaitVisible(f.cfg.WaitSelector, chromedp.ByQuery)
	} else {
		wait = chromedp.Tasks{
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(renderSettle),
		}
	}
	return []chromedp.Action{
		f.sessionSetup(request.Headers),
		chromedp.Navigate(request.URL),
		wait,
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

func (f *Fetcher) sessionSetup(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user-agent: %w", err)
			}
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(cdpHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// docMeta collects the main document response seen on the CDP event stream.
// Events arrive on chromedp's goroutine, so access is mutex guarded.
type docMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *docMeta) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, item := range v {
				headers.Add(key, item)
			}
		case []interface{}:
			for _, item := range v {
				headers.Add(key, fmt.Sprint(item))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

// fill overlays the captured document metadata onto the response, leaving
// the caller's fallbacks in place for anything the stream never reported.
func (m *docMeta) fill(resp *schedule.FetchResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		resp.StatusCode = m.status
	}
	if len(m.headers) > 0 {
		resp.Headers = m.headers.Clone()
	}
	if m.url != "" {
		resp.URL = m.url
	}
}

func cdpHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
