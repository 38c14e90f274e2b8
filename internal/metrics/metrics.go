// Package metrics exposes Prometheus collectors for the enricher service.
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
	enricherWatchdogFiresTotal    prometheus.Counter
	enricherSessionsTotal         *prometheus.CounterVec
	enricherOCRAttemptsTotal      *prometheus.CounterVec
	enricherOCRImagesTotal        *prometheus.CounterVec
	enricherRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		enricherWatchdogFiresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_watchdog_fires_total",
				Help: "Items abandoned because the per-item watchdog expired.",
			},
		)

		enricherSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_sessions_total",
				Help: "Page session lifecycle events, labeled by event.",
			},
			[]string{"event"},
		)

		enricherOCRAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_ocr_attempts_total",
				Help: "OCR attempts, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		enricherOCRImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_ocr_images_total",
				Help: "Images resolved by the OCR strategy, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enricherRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveWatchdog counts one watchdog expiry.
func ObserveWatchdog() {
	Init()
	enricherWatchdogFiresTotal.Inc()
}

// ObserveSession counts a page session lifecycle event (opened, closed, scrape_timeout, ...).
func ObserveSession(event string) {
	Init()
	enricherSessionsTotal.WithLabelValues(event).Inc()
}

// ObserveOCRAttempt counts one attempt of an OCR stage.
func ObserveOCRAttempt(stage, outcome string) {
	Init()
	enricherOCRAttemptsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveOCRImage counts the final outcome for one image.
func ObserveOCRImage(outcome string) {
	Init()
	enricherOCRImagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	enricherRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
