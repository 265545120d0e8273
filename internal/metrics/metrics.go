// Package metrics provides Prometheus metrics for the GridDFS servers.
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
			Name: "griddfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "griddfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Block transfer metrics
	blockBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "griddfs_block_bytes_stored_total",
			Help: "Total block bytes written to this node",
		},
	)

	blockBytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "griddfs_block_bytes_fetched_total",
			Help: "Total block bytes read from this node",
		},
	)

	blockOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddfs_block_ops_total",
			Help: "Total block store operations",
		},
		[]string{"op", "status"},
	)

	// Ledger metrics
	ledgerOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "griddfs_ledger_op_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	filesAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "griddfs_files_available",
			Help: "Number of files that reached available status since start",
		},
	)

	// Node registry metrics
	activeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "griddfs_active_nodes",
			Help: "Number of storage nodes inside the liveness window",
		},
	)

	heartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "griddfs_heartbeats_total",
			Help: "Total heartbeats received",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "griddfs_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Best-effort cleanup metrics
	orphanedBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "griddfs_orphaned_blocks_total",
			Help: "Blocks whose remote delete failed during file deletion",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBlockStored records a block write on a storage node.
func RecordBlockStored(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		blockBytesStored.Add(float64(bytes))
	}
	blockOpsTotal.WithLabelValues("store", status).Inc()
}

// RecordBlockFetched records a block read on a storage node.
func RecordBlockFetched(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		blockBytesFetched.Add(float64(bytes))
	}
	blockOpsTotal.WithLabelValues("fetch", status).Inc()
}

// RecordBlockDeleted records a block delete on a storage node.
func RecordBlockDeleted(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	blockOpsTotal.WithLabelValues("delete", status).Inc()
}

// RecordLedgerOp records the duration of a ledger operation.
func RecordLedgerOp(op string, duration time.Duration) {
	ledgerOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFileAvailable bumps the available-files gauge.
func RecordFileAvailable() {
	filesAvailable.Inc()
}

// SetActiveNodes updates the active node gauge.
func SetActiveNodes(n int) {
	activeNodes.Set(float64(n))
}

// RecordHeartbeat records a received heartbeat.
func RecordHeartbeat() {
	heartbeatsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordOrphanedBlock records a block left behind on an unreachable node.
func RecordOrphanedBlock() {
	orphanedBlocksTotal.Inc()
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
