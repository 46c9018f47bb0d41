// Package metrics provides Prometheus instrumentation for the ranking engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// AwardsTotal counts award calls by outcome (applied, skipped, duplicate, failed).
	AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courserank_awards_total",
		Help: "Total number of award calls by outcome",
	}, []string{"outcome"})

	// AwardLatency tracks the award transaction latency.
	AwardLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courserank_award_latency_seconds",
		Help:    "Award transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PointsAwarded tracks cumulative points handed out.
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courserank_points_awarded_total",
		Help: "Cumulative points awarded across all courses",
	})

	// CacheLookups counts ranking cache reads by window and result (hit, miss, bypass, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courserank_ranking_cache_lookups_total",
		Help: "Ranking cache lookups",
	}, []string{"window", "result"})

	// CacheInvalidationFailures counts invalidations that failed and were ignored.
	CacheInvalidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courserank_cache_invalidation_failures_total",
		Help: "Ranking cache invalidations that failed",
	})

	// SnapshotRefreshDuration tracks a full refresh cycle.
	SnapshotRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courserank_snapshot_refresh_duration_seconds",
		Help:    "Duration of a full ranking snapshot refresh",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// SnapshotCourseFailures counts per-course refresh failures.
	SnapshotCourseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courserank_snapshot_course_failures_total",
		Help: "Courses whose snapshot refresh failed",
	})

	// SnapshotRows tracks rows written by the last refresh cycle.
	SnapshotRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courserank_snapshot_rows",
		Help: "Ranking snapshot rows written by the last refresh",
	})

	// NotificationsTotal counts notifier deliveries by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courserank_notifications_total",
		Help: "Notifications dispatched by kind and result",
	}, []string{"kind", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courserank_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courserank_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courserank_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
