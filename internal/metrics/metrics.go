// Package metrics exposes Prometheus collectors for craftwatch.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	scraperNodesTotal          *prometheus.CounterVec
	scraperDurationSeconds     *prometheus.HistogramVec
	scrapeRunsTotal            *prometheus.CounterVec
	inventoryItems             *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftwatch_fetch_attempts_total",
				Help: "Fetch attempts made by the fetch channel, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftwatch_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "craftwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftwatch_cache_lookups_total",
				Help: "Cache lookups, labeled by result (memory, store, miss).",
			},
			[]string{"result"},
		)

		scraperNodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftwatch_scraper_nodes_total",
				Help: "Job tree node outcomes, labeled by brewery and kind.",
			},
			[]string{"brewery", "kind"},
		)

		scraperDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "craftwatch_scraper_duration_seconds",
				Help:    "Wall time of one scraper traversal.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"brewery"},
		)

		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "craftwatch_scraper_runs_total",
				Help: "Scraper traversals, labeled by brewery and status.",
			},
			[]string{"brewery", "status"},
		)

		inventoryItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "craftwatch_inventory_items",
				Help: "Items in the most recent inventory, labeled by brewery.",
			},
			[]string{"brewery"},
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

// ObserveFetch records one fetch attempt and the bytes it returned.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache lookup by result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveNodes adds per-kind node counts for a brewery.
func ObserveNodes(brewery string, counts map[string]int) {
	Init()
	for kind, n := range counts {
		if n > 0 {
			scraperNodesTotal.WithLabelValues(brewery, kind).Add(float64(n))
		}
	}
}

// ObserveScraperRun records the status and duration of one traversal.
func ObserveScraperRun(brewery string, status string, duration time.Duration) {
	Init()
	scrapeRunsTotal.WithLabelValues(brewery, status).Inc()
	scraperDurationSeconds.WithLabelValues(brewery).Observe(duration.Seconds())
}

// SetInventoryItems publishes the per-brewery item gauge.
func SetInventoryItems(brewery string, count int) {
	Init()
	inventoryItems.WithLabelValues(brewery).Set(float64(count))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
