// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the QoS request engine. A nil *Metrics is valid
// and records nothing.

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-qos/api"
)

// Request kinds used as label values.
const (
	KindTimed  = "timed"
	KindHandle = "handle"
	KindRaw    = "raw"
)

// Metrics groups the engine collectors.
type Metrics struct {
	requests     *prometheus.CounterVec
	openFailures *prometheus.CounterVec
	releases     *prometheus.CounterVec
	staleFires   prometheus.Counter
	active       prometheus.Gauge
	holdSeconds  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qos_requests_total",
				Help: "QoS requests accepted, by kind.",
			},
			[]string{"kind"},
		),
		openFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qos_open_failures_total",
				Help: "Control node open or write failures, by request kind.",
			},
			[]string{"kind"},
		),
		releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qos_releases_total",
				Help: "Engine-owned resources closed, by reason.",
			},
			[]string{"reason"},
		),
		staleFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qos_stale_fires_total",
			Help: "Expirations that found their resource already reclaimed.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qos_active_resources",
			Help: "Control node descriptors currently held by the engine.",
		}),
		holdSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qos_hold_duration_seconds",
			Help:    "How long engine-owned resources stayed open.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.openFailures, m.releases, m.staleFires, m.active, m.holdSeconds)
	}
	return m
}

// Requested counts an accepted request.
func (m *Metrics) Requested(kind string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind).Inc()
}

// OpenFailed counts a failed open.
func (m *Metrics) OpenFailed(kind string) {
	if m == nil {
		return
	}
	m.openFailures.WithLabelValues(kind).Inc()
}

// Acquired records an engine-owned resource coming alive.
func (m *Metrics) Acquired() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// Released records a closed engine-owned resource.
func (m *Metrics) Released(rel api.Release) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.releases.WithLabelValues(string(rel.Reason)).Inc()
	m.holdSeconds.Observe(rel.Held.Seconds())
}

// StaleFire counts an expiration that was a no-op.
func (m *Metrics) StaleFire() {
	if m == nil {
		return
	}
	m.staleFires.Inc()
}
