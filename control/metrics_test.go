package control_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
)

func TestMetrics_RecordsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)

	m.Requested(control.KindHandle)
	m.Requested(control.KindTimed)
	m.OpenFailed(control.KindTimed)
	m.Acquired()
	m.Acquired()
	m.Released(api.Release{Reason: api.ReasonLeaseClosed, Held: 5 * time.Millisecond})
	m.StaleFire()

	count, err := testutil.GatherAndCount(reg, "qos_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, 1.0, gauge(t, reg, "qos_active_resources"))
	assert.Equal(t, 1.0, counterWithLabel(t, reg, "qos_releases_total", "reason", "lease_closed"))
	assert.Equal(t, 1.0, counterWithLabel(t, reg, "qos_open_failures_total", "kind", "timed"))
	assert.Equal(t, 1.0, gauge(t, reg, "qos_stale_fires_total"))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *control.Metrics
	assert.NotPanics(t, func() {
		m.Requested(control.KindRaw)
		m.OpenFailed(control.KindRaw)
		m.Acquired()
		m.Released(api.Release{})
		m.StaleFire()
	})
}

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue()
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func counterWithLabel(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}
