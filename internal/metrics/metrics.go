// Package metrics holds the Prometheus instruments for the auth core.
//
// Instruments are registered on an injected prometheus.Registerer instead of
// the global default, so each test can build its own registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess    = "success"
	OutcomeInvalid    = "invalid"
	OutcomeConflict   = "conflict"
	OutcomeBadCreds   = "bad_credentials"
	OutcomeForbidden  = "forbidden"
	OutcomeError      = "error"
	OutcomeAnonymous  = "anonymous"
	OutcomeRejected   = "rejected"
	OutcomeUnverified = "unverified"
	ModeBestEffort    = "best_effort"
	ModeMandatory     = "mandatory"
	ResultFound       = "found"
	ResultNotFound    = "not_found"
	ResultLookupError = "error"
)

// Metrics groups the auth counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registerTotal     *prometheus.CounterVec
	loginTotal        *prometheus.CounterVec
	sessionTotal      *prometheus.CounterVec
	sessionRejections *prometheus.CounterVec
	identityLookup    *prometheus.HistogramVec
}

// New creates the auth instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registerTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matcha_auth_register_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}),
		loginTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matcha_auth_login_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		sessionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matcha_auth_session_resolutions_total",
			Help: "Session resolutions by middleware mode and outcome",
		}, []string{"mode", "outcome"}),
		sessionRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matcha_auth_session_rejections_total",
			Help: "Sessions that did not resolve, by reason",
		}, []string{"reason"}),
		identityLookup: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matcha_auth_identity_lookup_duration_seconds",
			Help:    "Latency of the per-request identity re-read",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}
}

// Register counts one registration attempt. outcome is OutcomeSuccess,
// OutcomeInvalid, OutcomeConflict or OutcomeError.
func (m *Metrics) Register(outcome string) {
	if m == nil {
		return
	}
	m.registerTotal.WithLabelValues(outcome).Inc()
}

// Login counts one login attempt. Unknown email and wrong password share
// OutcomeBadCreds, the same way they share one response.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

// Session records one middleware resolution. reason is set for
// OutcomeRejected and OutcomeUnverified and also counted on its own series;
// it is empty for success and anonymous requests.
//
// outcome mirrors the auth.SessionState handed to the handler, so a dashboard
// can tell "the cookie was bad" (rejected) from "the database did not answer"
// (unverified).
func (m *Metrics) Session(mode, outcome, reason string) {
	if m == nil {
		return
	}
	m.sessionTotal.WithLabelValues(mode, outcome).Inc()
	if reason != "" {
		m.sessionRejections.WithLabelValues(reason).Inc()
	}
}

// IdentityLookup observes the latency of the resolver's repository read.
// result is ResultFound, ResultNotFound or ResultLookupError.
func (m *Metrics) IdentityLookup(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.identityLookup.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the exposition format for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
