// Package metrics holds the Prometheus collectors for the application
// service: HTTP request instrumentation plus domain counters for the
// application lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "application_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "application_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	applicationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "applications",
			Name:      "created_total",
			Help:      "Total number of applications created.",
		},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "applications",
			Name:      "status_transitions_total",
			Help:      "Total number of status transitions applied.",
		},
		[]string{"from", "to"},
	)

	applicationsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "applications",
			Name:      "deleted_total",
			Help:      "Total number of applications deleted.",
		},
		[]string{"mode"},
	)

	directoryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "directory",
			Name:      "failures_total",
			Help:      "Total number of failed external directory calls.",
		},
		[]string{"directory"},
	)

	authorizationDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "application_layer",
			Subsystem: "authz",
			Name:      "denials_total",
			Help:      "Total number of denied authorization checks.",
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		applicationsCreated,
		statusTransitions,
		applicationsDeleted,
		directoryFailures,
		authorizationDenials,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// The path label is the chi route pattern, so id segments do not explode
// cardinality. Mount it on the router itself: the pattern is only available
// from the route context, which the outer middleware chain does not carry.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routePattern(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordApplicationCreated records one successful creation.
func RecordApplicationCreated() {
	applicationsCreated.Inc()
}

// RecordStatusTransition records one applied transition.
func RecordStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordApplicationsDeleted records deletions. Mode is "single",
// "by_applicant", or "by_product".
func RecordApplicationsDeleted(mode string, count int) {
	if count <= 0 {
		return
	}
	applicationsDeleted.WithLabelValues(mode).Add(float64(count))
}

// RecordAuthorizationDenial records one denied authorization check for the
// named operation.
func RecordAuthorizationDenial(operation string) {
	authorizationDenials.WithLabelValues(operation).Inc()
}

// RecordDirectoryFailure records one failed external directory call.
func RecordDirectoryFailure(directory string) {
	if directory == "" {
		directory = "unknown"
	}
	directoryFailures.WithLabelValues(directory).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}
