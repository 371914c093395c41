package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound calls to the content API and token endpoint.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_http_requests_total",
			Help: "Total number of outbound HTTP requests (by target, method and status).",
		},
		[]string{"target", "method", "status"}, // status = HTTP code | "transport_error"
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rockclient_http_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"target", "method"},
	)

	// Cache policy decisions taken by the orchestrator.
	ResourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_resource_requests_total",
			Help: "Resource fetches by cache outcome.",
		},
		[]string{"outcome"}, // hit | stale | miss | forced | prewarm
	)

	// Emissions written into observable holders.
	ResourceEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_resource_emissions_total",
			Help: "Values published to observable holders by kind.",
		},
		[]string{"kind"}, // cached | fresh | correction | upload
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_token_refresh_total",
			Help: "Refresh-token exchanges by result.",
		},
		[]string{"result"}, // ok | rejected | transport_error | decode_error | superseded
	)

	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_logins_total",
			Help: "Password logins by result.",
		},
		[]string{"result"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_store_errors_total",
			Help: "Storage errors swallowed at the store boundary.",
		},
		[]string{"backend", "op"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_secrets_cache_access_total",
			Help: "Number of cache hits/misses in the client credential cache.",
		},
		[]string{"result"}, // hit | miss
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rockclient_events_published_total",
			Help: "Domain events forwarded to an external bridge.",
		},
		[]string{"bridge", "event_type", "result"},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncHTTPRequest(target, method, status string) {
	HTTPRequestsTotal.WithLabelValues(target, method, status).Inc()
}

func IncResourceRequest(outcome string) {
	ResourceRequests.WithLabelValues(outcome).Inc()
}

func IncEmission(kind string) {
	ResourceEmissions.WithLabelValues(kind).Inc()
}

func IncTokenRefresh(result string) {
	TokenRefreshes.WithLabelValues(result).Inc()
}

func IncLogin(result string) {
	Logins.WithLabelValues(result).Inc()
}

func IncStoreError(backend, op string) {
	StoreErrors.WithLabelValues(backend, op).Inc()
}

func IncSecretsCache(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncEventPublished(bridge, eventType, result string) {
	EventsPublished.WithLabelValues(bridge, eventType, result).Inc()
}
