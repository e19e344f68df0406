package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter in family name whose labels
// match want exactly.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelsMatch(m.GetLabel(), want) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TokenIssued("verification")
	m.TokenIssued("verification")
	m.TokenConsumed("password_reset", OutcomeInvalid)
	m.Login(OutcomeUnverified)
	m.Notification("welcome", nil)
	m.Notification("welcome", errors.New("smtp down"))

	assert.Equal(t, 2.0, counterValue(t, reg, "account_tokens_issued_total", map[string]string{"kind": "verification"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "account_token_consumptions_total",
		map[string]string{"kind": "password_reset", "outcome": "invalid"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "account_logins_total", map[string]string{"outcome": "unverified"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "account_notifications_total",
		map[string]string{"template": "welcome", "outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "account_notifications_total",
		map[string]string{"template": "welcome", "outcome": "failure"}))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenIssued("verification")
		m.TokenConsumed("verification", OutcomeSuccess)
		m.Login(OutcomeSuccess)
		m.Notification("welcome", nil)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
