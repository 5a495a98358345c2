package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the HTTP surface. A nil
// *Metrics records nothing.
type Metrics struct {
	tokensIssued    *prometheus.CounterVec
	oauthErrors     *prometheus.CounterVec
	revocations     prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "tokens_issued_total",
			Help:      "Token endpoint responses that issued tokens, by grant type.",
		}, []string{"grant_type"}),
		oauthErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "oauth_errors_total",
			Help:      "Errors reported to clients, by error code.",
		}, []string{"code"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "token_revocations_total",
			Help:      "Revocation requests accepted.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(m.tokensIssued, m.oauthErrors, m.revocations, m.requestDuration)

	return m
}

func (m *Metrics) tokenIssued(grantType string) {
	if m != nil {
		m.tokensIssued.WithLabelValues(grantType).Inc()
	}
}

func (m *Metrics) oauthError(code string) {
	if m != nil {
		m.oauthErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) revoked() {
	if m != nil {
		m.revocations.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument records the latency of next under route.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.requestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
