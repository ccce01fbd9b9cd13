// Package metrics provides Prometheus instrumentation for the CLOB engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts accepted resting orders, partitioned by side.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_placed_total",
		Help: "Total resting orders accepted onto the book",
	}, []string{"side"})

	// TradesMatched counts trades emitted by the matching loop.
	TradesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clob_trades_matched_total",
		Help: "Total trades emitted by book matching",
	})

	// DirectFills counts trades executed through the direct-fill path.
	DirectFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clob_direct_fills_total",
		Help: "Total trades executed against signed orders directly",
	})

	// Cancels counts successful cancellations, partitioned by kind
	// ("order" or "salt").
	Cancels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_cancels_total",
		Help: "Total successful cancellations",
	}, []string{"kind"})

	// Rejections counts rejected mutations by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_rejections_total",
		Help: "Total rejected order operations",
	}, []string{"reason"})

	// MatchLatency tracks the duration of match invocations.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clob_match_latency_seconds",
		Help:    "Match invocation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the surface is small enough to
		// keep cardinality in check.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
