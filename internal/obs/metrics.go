package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Trust-boundary metrics. Labels stay low-cardinality: reasons and classes
// come from closed enumerations, never from request input.
var (
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Authentication failures by reason.",
		},
		[]string{"reason"},
	)

	authzDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Authorization denials by capability.",
		},
		[]string{"capability"},
	)

	rateLimitRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by endpoint class.",
		},
		[]string{"class"},
	)

	auditChainLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_chain_length",
		Help: "Sequence number of the most recent audit record.",
	})

	auditDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_degraded",
		Help: "1 while best-effort audit writes are failing, 0 otherwise.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authFailuresTotal, authzDenialsTotal, rateLimitRejectsTotal,
		auditChainLength, auditDegraded,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthFailure counts a failed authentication attempt.
func AuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// AuthzDenial counts an authorization denial for a capability.
func AuthzDenial(capability string) {
	authzDenialsTotal.WithLabelValues(capability).Inc()
}

// RateLimitReject counts a 429 for an endpoint class.
func RateLimitReject(class string) {
	rateLimitRejectsTotal.WithLabelValues(class).Inc()
}

// SetAuditChainLength records the latest audit sequence number.
func SetAuditChainLength(seq uint64) {
	auditChainLength.Set(float64(seq))
}

// SetAuditDegraded flips the audit degradation gauge.
func SetAuditDegraded(degraded bool) {
	if degraded {
		auditDegraded.Set(1)
		return
	}
	auditDegraded.Set(0)
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded: /v1/users/<id> becomes /v1/users/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for _, prefix := range []string{"users", "apikeys", "transactions"} {
		for j := 0; j < len(parts)-1; j++ {
			if parts[j] == prefix && parts[j+1] != "" && parts[j+1] != "bulk" {
				parts[j+1] = ":id"
			}
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter captures the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
