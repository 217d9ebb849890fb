package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanstore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Session store metrics
	sessionOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanstore_session_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"op", "result"},
	)

	persistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanstore_persistence_failures_total",
			Help: "Total number of failed writes to the persisted store",
		},
		[]string{"backend"},
	)

	// Scan metrics
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanstore_scans_total",
			Help: "Total number of scan records appended, by verdict",
		},
		[]string{"status"},
	)

	scansDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanstore_scans_dropped_total",
			Help: "Total number of scan completions that were not recorded",
		},
		[]string{"reason"},
	)

	classificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanstore_classification_duration_seconds",
			Help:    "Classifier latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"classifier"},
	)

	pendingScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanstore_pending_scans",
			Help: "Number of submitted scans that have not completed",
		},
	)

	// System metrics
	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanstore_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	healthCheckUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanstore_health_check_up",
			Help: "Whether the last run of a health check passed (1) or failed (0)",
		},
		[]string{"check"},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanstore_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default Prometheus registry.
// It is safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionOperationsTotal,
			persistenceFailuresTotal,
			scansTotal,
			scansDroppedTotal,
			classificationDuration,
			pendingScans,
			memoryUsage,
			healthCheckUp,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSessionOperation counts a store operation. result is one of
// "ok", "warning" or "error".
func RecordSessionOperation(op, result string) {
	sessionOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordPersistenceFailure counts a failed write for the named backend.
func RecordPersistenceFailure(backend string) {
	persistenceFailuresTotal.WithLabelValues(backend).Inc()
}

// RecordScan counts an appended scan record.
func RecordScan(status string) {
	scansTotal.WithLabelValues(status).Inc()
}

// RecordScanDropped counts a completion that was discarded.
func RecordScanDropped(reason string) {
	scansDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordClassification records classifier latency
func RecordClassification(classifier string, duration time.Duration) {
	classificationDuration.WithLabelValues(classifier).Observe(duration.Seconds())
}

// IncPendingScans marks a scan job as in flight.
func IncPendingScans() {
	pendingScans.Inc()
}

// DecPendingScans marks an in-flight scan job as finished.
func DecPendingScans() {
	pendingScans.Dec()
}

// SetMemoryUsage sets the memory usage gauge
func SetMemoryUsage(bytes uint64) {
	memoryUsage.Set(float64(bytes))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}

// SetHealthCheck records the outcome of the named health check.
func SetHealthCheck(check string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	healthCheckUp.WithLabelValues(check).Set(v)
}
