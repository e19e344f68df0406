package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "account-service")
	require.NotNil(t, c)

	ch := make(chan *prometheus.Desc, 20)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	require.Len(t, names, 8)

	joined := ""
	for _, n := range names {
		joined += n
	}
	for _, want := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_max_connections",
		"db_pool_acquire_count_total",
		"db_pool_canceled_acquire_count_total",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestRegisterPoolMetrics_DuplicateRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "account-service"))
	assert.Error(t, RegisterPoolMetrics(reg, nil, "account-service"))
}
