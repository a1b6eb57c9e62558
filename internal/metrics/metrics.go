package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundchain",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundchain",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	descriptorsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundchain",
			Subsystem: "engine",
			Name:      "descriptors_created_total",
			Help:      "Unsigned transactions handed out, by transaction type.",
		},
		[]string{"type"},
	)

	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundchain",
			Subsystem: "engine",
			Name:      "broadcasts_total",
			Help:      "Signed transaction broadcasts, by transaction type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundchain",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Business rule rejections, by reason code.",
		},
		[]string{"code"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundchain",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of blockchain gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"op", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		descriptorsCreated,
		broadcasts,
		rejections,
		gatewayDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// DescriptorCreated counts an unsigned transaction handed to a client.
func DescriptorCreated(txType string) {
	descriptorsCreated.WithLabelValues(txType).Inc()
}

// Broadcast counts a broadcast attempt. outcome is "ok" or the error code.
func Broadcast(txType, outcome string) {
	broadcasts.WithLabelValues(txType, outcome).Inc()
}

// Rejection counts a business rule rejection.
func Rejection(code string) {
	rejections.WithLabelValues(code).Inc()
}

// GatewayCall records the duration of a gateway call.
func GatewayCall(op string, duration time.Duration, err error) {
	gatewayDuration.WithLabelValues(op, strconv.FormatBool(err == nil)).Observe(duration.Seconds())
}
