// Package metrics exposes account token and login counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeUnverified         = "unverified"
	OutcomeFailure            = "failure"
)

// Metrics holds the account service collectors. A nil *Metrics records nothing.
type Metrics struct {
	tokensIssued      *prometheus.CounterVec
	tokensConsumed    *prometheus.CounterVec
	logins            *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

// New registers the account collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "account_tokens_issued_total",
			Help: "Verification and reset tokens issued",
		}, []string{"kind"}),
		tokensConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "account_token_consumptions_total",
			Help: "Token consumption attempts by outcome",
		}, []string{"kind", "outcome"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "account_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "account_notifications_total",
			Help: "Notification deliveries by template and outcome",
		}, []string{"template", "outcome"}),
	}
}

// TokenIssued counts a token of kind handed to the notifier.
func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

// TokenConsumed counts a consumption attempt.
func (m *Metrics) TokenConsumed(kind, outcome string) {
	if m == nil {
		return
	}
	m.tokensConsumed.WithLabelValues(kind, outcome).Inc()
}

// Login counts a login attempt.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// Notification counts a notifier call.
func (m *Metrics) Notification(template string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.notificationsSent.WithLabelValues(template, outcome).Inc()
}
