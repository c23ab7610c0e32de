// Package metrics exposes Prometheus collectors for the newsletter archive service.
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
	ingestionRunsTotal         *prometheus.CounterVec
	ingestionDurationSeconds   prometheus.Histogram
	issuesImportedTotal        prometheus.Counter
	issuesUpdatedTotal         prometheus.Counter
	detailFetchTotal           *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	pushDispatchTotal          *prometheus.CounterVec
	pacerDelaySeconds          *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestionRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_ingestion_runs_total",
				Help: "Total number of ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		ingestionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsletter_ingestion_duration_seconds",
				Help:    "Histogram of ingestion run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		issuesImportedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_issues_imported_total",
				Help: "Total number of newly inserted issues.",
			},
		)

		issuesUpdatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_issues_updated_total",
				Help: "Total number of issues overwritten or re-enriched.",
			},
		)

		detailFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_detail_fetch_total",
				Help: "Total number of issue page enrichments, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_fetch_retries_total",
				Help: "Total number of upstream fetch retries, labeled by reason.",
			},
			[]string{"reason"},
		)

		pushDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_push_dispatch_total",
				Help: "Total number of push notifications dispatched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pacerDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsletter_pacer_delay_seconds",
				Help:    "Histogram of pacing waits before upstream fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsletter_active_workers",
				Help: "Number of workers currently processing a task.",
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
	Init()
	return promhttp.Handler()
}

// ObserveIngestionRun records the outcome and duration of one ingestion run.
func ObserveIngestionRun(status string, duration time.Duration) {
	Init()
	ingestionRunsTotal.WithLabelValues(status).Inc()
	ingestionDurationSeconds.Observe(duration.Seconds())
}

// AddIssuesImported adds n newly inserted issues.
func AddIssuesImported(n int) {
	Init()
	if n > 0 {
		issuesImportedTotal.Add(float64(n))
	}
}

// AddIssuesUpdated adds n overwritten or re-enriched issues.
func AddIssuesUpdated(n int) {
	Init()
	if n > 0 {
		issuesUpdatedTotal.Add(float64(n))
	}
}

// ObserveDetailFetch increments the enrichment counter for outcome.
func ObserveDetailFetch(outcome string) {
	Init()
	detailFetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchRetry increments the retry counter for reason.
func ObserveFetchRetry(reason string) {
	Init()
	fetchRetriesTotal.WithLabelValues(reason).Inc()
}

// ObservePushDispatch increments the dispatch counter for outcome.
func ObservePushDispatch(outcome string) {
	Init()
	pushDispatchTotal.WithLabelValues(outcome).Inc()
}

// ObservePacerDelay records the duration of a pacing wait.
func ObservePacerDelay(site string, duration time.Duration) {
	Init()
	pacerDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
