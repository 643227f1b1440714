// Package metrics provides Prometheus metrics for projectfiles.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Tree metrics
	snapshotSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "projectfiles_snapshot_nodes",
			Help: "Number of nodes in the last loaded collection snapshot",
		},
		[]string{"kind"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_mutations_total",
			Help: "Tree mutations by operation and result",
		},
		[]string{"op", "status"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_snapshot_cache_lookups_total",
			Help: "Snapshot cache lookups",
		},
		[]string{"result"},
	)

	downloadURLsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_download_urls_total",
			Help: "Download URLs issued",
		},
		[]string{"counted"},
	)

	// Client-side coordination metrics
	bulkRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_bulk_runs_total",
			Help: "Bulk action runs by action and result",
		},
		[]string{"action", "result"},
	)

	navigatorDiscardsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectfiles_navigator_discarded_responses_total",
			Help: "Listing responses discarded because a newer request was issued",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"method", "result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSnapshotSize records the node count of a collection snapshot.
func SetSnapshotSize(kind string, nodes int) {
	snapshotSize.WithLabelValues(kind).Set(float64(nodes))
}

// RecordMutation records a tree mutation.
func RecordMutation(op string, success bool) {
	mutationsTotal.WithLabelValues(op, status(success)).Inc()
}

// RecordCacheLookup records a snapshot cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDownloadURL records an issued download URL.
func RecordDownloadURL(counted bool) {
	downloadURLsTotal.WithLabelValues(strconv.FormatBool(counted)).Inc()
}

// RecordBulkRun records the outcome of one bulk action.
func RecordBulkRun(action string, success bool) {
	bulkRunsTotal.WithLabelValues(action, status(success)).Inc()
}

// RecordNavigatorDiscard records a superseded listing response.
func RecordNavigatorDiscard() {
	navigatorDiscardsTotal.Inc()
}

// ClientRecorder feeds browser navigation and bulk counters into this
// package's collectors.
type ClientRecorder struct{}

func (ClientRecorder) RecordNavigatorDiscard() { RecordNavigatorDiscard() }

func (ClientRecorder) RecordBulkRun(action string, success bool) { RecordBulkRun(action, success) }

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(method string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by their mux pattern, so ids never reach a label.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
