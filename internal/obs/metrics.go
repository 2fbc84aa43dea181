package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName labels logs and info endpoints.
const ServiceName = "medcabinet-api"

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

	authActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_actions_total",
			Help: "auth-pin actions by outcome.",
		},
		[]string{"action", "outcome"},
	)

	authLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated PIN failures.",
	})

	sessionsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_purged_total",
		Help: "Expired sessions removed during login.",
	})

	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_generated_total",
			Help: "Generated documents by kind and output.",
		},
		[]string{"kind", "output"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authActionsTotal, authLockoutsTotal, sessionsPurgedTotal,
			documentsTotal, readyGauge,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthAction counts one auth-pin action outcome.
func AuthAction(action, outcome string) {
	authActionsTotal.WithLabelValues(action, outcome).Inc()
}

func Lockout() { authLockoutsTotal.Inc() }

func SessionsPurged(n int64) { sessionsPurgedTotal.Add(float64(n)) }

// DocumentGenerated counts a rendered document; output is "html" or "pdf".
func DocumentGenerated(kind, output string) {
	documentsTotal.WithLabelValues(kind, output).Inc()
}

// SetReady records the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

var knownPaths = map[string]bool{
	"/":                          true,
	"/auth-pin":                  true,
	"/generate-certificate-pdf":  true,
	"/generate-prescription-pdf": true,
	"/healthz":                   true,
	"/readyz":                    true,
	"/metrics":                   true,
	"/v1/info":                   true,
}

// CanonicalPath bounds label cardinality: unknown paths collapse to "/other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if knownPaths[p] {
		return p
	}
	return "/other"
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
