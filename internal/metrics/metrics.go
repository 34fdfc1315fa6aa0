// Package metrics provides Prometheus instrumentation for the invoice engine.
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
	// InvoicesCreated counts freshly created invoices (replays excluded).
	InvoicesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bnpl_invoices_created_total",
		Help: "Total number of invoices created",
	})

	// IdempotentReplays counts creation requests answered from a stored
	// idempotency record.
	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bnpl_idempotent_replays_total",
		Help: "Creation requests replayed from an idempotency record",
	})

	// IdempotencyConflicts counts keys reused with different terms.
	IdempotencyConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bnpl_idempotency_conflicts_total",
		Help: "Idempotency keys reused with a different request hash",
	})

	// LedgerReads counts ledger reads partitioned by outcome (ok, degraded).
	LedgerReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bnpl_ledger_reads_total",
		Help: "Total on-ledger loan state reads",
	}, []string{"outcome"})

	// LedgerReadDuration tracks ledger read round-trip time.
	LedgerReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bnpl_ledger_read_duration_seconds",
		Help:    "Ledger read round-trip duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bnpl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bnpl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected checkout status subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bnpl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
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

		// Use the raw path for the label; route cardinality is low.
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
