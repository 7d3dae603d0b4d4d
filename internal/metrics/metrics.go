// Package metrics provides Prometheus instrumentation for the cart engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CartMutations counts cart operations, partitioned by op
	// (add, increment, decrement).
	CartMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"op"})

	// CartLineItems tracks the number of line items in the current cart.
	CartLineItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_line_items",
		Help: "Number of line items in the cart",
	})

	// CartUnits tracks the total quantity across all line items.
	CartUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_units",
		Help: "Total units across all line items",
	})

	// StorageWrites counts snapshot writes by result (ok, error).
	StorageWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_storage_writes_total",
		Help: "Cart snapshot writes to storage",
	}, []string{"result"})

	// StorageWriteLatency tracks how long a snapshot write takes.
	StorageWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_storage_write_latency_seconds",
		Help:    "Cart snapshot write latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CoalescedWrites counts snapshots replaced by a newer one before
	// they reached storage.
	CoalescedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_storage_writes_coalesced_total",
		Help: "Snapshots superseded before being written",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_http_request_duration_seconds",
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

		// Route pattern keeps item ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
