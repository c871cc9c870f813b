// Package metrics exposes Prometheus counters for authentication and recovery outcomes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cafe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)
	recoveryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_recovery_events_total",
			Help: "Password recovery steps by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	mailDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_mail_dispatch_total",
			Help: "One-time code deliveries by transport and success",
		},
		[]string{"transport", "success"},
	)
)

// RecordLogin counts one login attempt.
func RecordLogin(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordRecovery counts one step of the password recovery flow.
func RecordRecovery(op, outcome string) {
	recoveryEvents.WithLabelValues(op, outcome).Inc()
}

// RecordDispatch counts one code delivery.
func RecordDispatch(transport string, success bool) {
	mailDispatch.WithLabelValues(transport, strconv.FormatBool(success)).Inc()
}

// Middleware records request duration by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
