package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the walletkit Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletkit",
			Subsystem: "router",
			Name:      "pending_requests",
			Help:      "Requests currently awaiting a decision.",
		},
	)

	resolvedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "router",
			Name:      "resolved_requests_total",
			Help:      "Requests that reached a terminal state.",
		},
		[]string{"kind", "state"},
	)

	signingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletkit",
			Subsystem: "signer",
			Name:      "sign_duration_seconds",
			Help:      "Time spent holding a wallet key, including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation", "success"},
	)

	transportFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletkit",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Protocol frames carried by transports.",
		},
		[]string{"transport", "direction"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		pendingRequests,
		resolvedRequests,
		signingDuration,
		transportFrames,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func PendingInc() { pendingRequests.Inc() }

func PendingDec() { pendingRequests.Dec() }

// RecordResolution counts a request reaching a terminal state.
func RecordResolution(kind, state string) {
	resolvedRequests.WithLabelValues(kind, state).Inc()
}

// RecordSigning observes one signer operation.
func RecordSigning(operation string, d time.Duration, success bool) {
	signingDuration.WithLabelValues(operation, strconv.FormatBool(success)).Observe(d.Seconds())
}

// RecordFrame counts one frame. direction is "in" or "out".
func RecordFrame(transport, direction string) {
	transportFrames.WithLabelValues(transport, direction).Inc()
}
