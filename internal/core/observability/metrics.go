package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of data service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"endpoint"},
	)

	// outcome: upstream|fallback
	fetchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "data_fetch_results_total",
			Help: "Data service fetches by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	droppedFeatures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_dropped_features_total",
			Help: "Raw features dropped during normalization.",
		},
		[]string{"reason"},
	)

	placeholderScores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "normalize_placeholder_scores_total",
			Help: "Features that received a random placeholder score.",
		},
	)

	catalogCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_results_total",
			Help: "Catalog cache lookups by catalog and result.",
		},
		[]string{"catalog", "result"},
	)

	// outcome: installed|superseded|failed
	renderCycles = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_cycle_duration_seconds",
			Help:    "Duration of choropleth load cycles by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	layerFeatures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "render_layer_features",
			Help: "Number of features in the installed data layer.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(append(Collectors(), buildInfo)...)
}

// Collectors lists the metrics of this package for a private registry. Build
// info is left out; a metrics.Provider registers its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		fetchResults,
		droppedFeatures,
		placeholderScores,
		catalogCache,
		renderCycles,
		layerFeatures,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(endpoint string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(endpoint).Observe(durationSeconds)
}

func IncFetch(endpoint string, fallback bool) {
	outcome := "upstream"
	if fallback {
		outcome = "fallback"
	}
	fetchResults.WithLabelValues(endpoint, outcome).Inc()
}

func IncDroppedFeature(reason string) {
	droppedFeatures.WithLabelValues(reason).Inc()
}

func IncPlaceholderScore() {
	placeholderScores.Inc()
}

func IncCatalogCache(catalog string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	catalogCache.WithLabelValues(catalog, result).Inc()
}

func ObserveRenderCycle(outcome string, durationSeconds float64) {
	renderCycles.WithLabelValues(outcome).Observe(durationSeconds)
}

func SetLayerFeatures(n int) {
	layerFeatures.Set(float64(n))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
