// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlSessionsTotal            *prometheus.CounterVec
	crawlSessionDurationSeconds   prometheus.Histogram
	crawlInProgress               prometheus.Gauge
	postsTotal                    *prometheus.CounterVec
	boardFetchTotal               *prometheus.CounterVec
	boardFetchRetriesTotal        prometheus.Counter
	analysisTotal                 *prometheus.CounterVec
	llmDurationSeconds            prometheus.Histogram
	lookupsTotal                  *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sessions_total",
				Help: "Total number of crawl sessions, labeled by terminal status.",
			},
			[]string{"status"},
		)

		crawlSessionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_session_duration_seconds",
				Help:    "Wall-clock duration of crawl sessions.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		crawlInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_crawl_in_progress",
				Help: "1 while a crawl holds the session lock.",
			},
		)

		postsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_posts_total",
				Help: "Posts seen by the orchestrator, labeled by outcome (found, saved, duplicate, failed).",
			},
			[]string{"outcome"},
		)

		boardFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_board_fetch_total",
				Help: "Board page fetches, labeled by final status code or unavailable.",
			},
			[]string{"status"},
		)

		boardFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_board_fetch_retries_total",
				Help: "Board fetch retries caused by throttling or transport errors.",
			},
		)

		analysisTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_analysis_total",
				Help: "Analyses produced, labeled by source and generation outcome.",
			},
			[]string{"source", "outcome"},
		)

		llmDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_llm_duration_seconds",
				Help:    "Latency of generation service calls.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 180},
			},
		)

		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_instrument_lookups_total",
				Help: "Instrument lookups, labeled by market and result (confirmed, unconfirmed, error, cached).",
			},
			[]string{"market", "result"},
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

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSession records a finished crawl session.
func ObserveSession(status string, duration time.Duration) {
	Init()
	crawlSessionsTotal.WithLabelValues(status).Inc()
	crawlSessionDurationSeconds.Observe(duration.Seconds())
}

// SetCrawlInProgress flips the in-progress gauge.
func SetCrawlInProgress(running bool) {
	Init()
	if running {
		crawlInProgress.Set(1)
		return
	}
	crawlInProgress.Set(0)
}

// ObservePost counts one post outcome.
func ObservePost(outcome string) {
	Init()
	postsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBoardFetch counts a finished board fetch. A zero status means the
// page was abandoned.
func ObserveBoardFetch(status int) {
	Init()
	label := "unavailable"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	boardFetchTotal.WithLabelValues(label).Inc()
}

// ObserveBoardRetry counts one retried board fetch.
func ObserveBoardRetry() {
	Init()
	boardFetchRetriesTotal.Inc()
}

// ObserveAnalysis counts an analysis by source and generation outcome.
func ObserveAnalysis(source, outcome string) {
	Init()
	analysisTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveLLMDuration records a generation call latency.
func ObserveLLMDuration(duration time.Duration) {
	Init()
	llmDurationSeconds.Observe(duration.Seconds())
}

// ObserveLookup counts an instrument lookup.
func ObserveLookup(market, result string) {
	Init()
	lookupsTotal.WithLabelValues(market, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
