// Package metrics exposes Prometheus collectors for the schedule pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperDaysTotal                     *prometheus.CounterVec
	scraperGamesParsedTotal              prometheus.Counter
	scraperRowsDroppedTotal              *prometheus.CounterVec
	scraperRecordsInvalidTotal           prometheus.Counter
	scraperFetchesTotal                  *prometheus.CounterVec
	scraperFetchBytesTotal               *prometheus.CounterVec
	scraperFetchRetriesTotal             prometheus.Counter
	scraperQualityGateFailuresTotal      prometheus.Counter
	scraperExecutionsTotal               *prometheus.CounterVec
	scraperDayDurationSeconds            prometheus.Histogram
	scraperActiveWorkers                 prometheus.Gauge
	scraperRateLimitDelaysSeconds        *prometheus.HistogramVec
	scraperProbeTLSHandshakeTimeoutTotal prometheus.Counter
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperDaysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_days_total",
				Help: "Total number of day pipeline runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		scraperGamesParsedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_games_parsed_total",
				Help: "Total number of game records extracted from schedule grids.",
			},
		)

		scraperRowsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_rows_dropped_total",
				Help: "Total number of grid rows discarded during parsing, labeled by reason.",
			},
			[]string{"reason"},
		)

		scraperRecordsInvalidTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_records_invalid_total",
				Help: "Total number of game records rejected by validation.",
			},
		)

		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Total number of schedule pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of day pipeline retry attempts.",
			},
		)

		scraperQualityGateFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_quality_gate_failures_total",
				Help: "Total number of ranges failed by the error-rate gate.",
			},
		)

		scraperExecutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_executions_total",
				Help: "Total number of child executions, labeled by status.",
			},
			[]string{"status"},
		)

		scraperDayDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_day_duration_seconds",
				Help:    "Histogram of single-day pipeline durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a day batch.",
			},
		)

		scraperRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperProbeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDay increments the day counter for the given outcome and records the
// run duration.
func ObserveDay(status string, duration time.Duration) {
	scraperDaysTotal.WithLabelValues(status).Inc()
	scraperDayDurationSeconds.Observe(duration.Seconds())
}

// ObserveGamesParsed adds extracted game records to the parse counter.
func ObserveGamesParsed(count int) {
	if count > 0 {
		scraperGamesParsedTotal.Add(float64(count))
	}
}

// ObserveRowDropped increments the dropped-row counter for the given reason.
func ObserveRowDropped(reason string) {
	scraperRowsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveRecordsInvalid adds rejected records to the validation counter.
func ObserveRecordsInvalid(count int) {
	if count > 0 {
		scraperRecordsInvalidTotal.Add(float64(count))
	}
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	scraperFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry increments the retry counter.
func ObserveFetchRetry() {
	scraperFetchRetriesTotal.Inc()
}

// ObserveQualityGateFailure increments the gate failure counter.
func ObserveQualityGateFailure() {
	scraperQualityGateFailuresTotal.Inc()
}

// ObserveExecution increments the execution counter for the given status.
func ObserveExecution(status string) {
	scraperExecutionsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	scraperProbeTLSHandshakeTimeoutTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scraperActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	scraperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
