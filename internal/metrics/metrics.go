// Package metrics exposes Prometheus collectors for the detector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all detector Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SessionsStarted prometheus.Counter
	KeysObserved    prometheus.Counter
	Windows         *prometheus.CounterVec
	Blocks          *prometheus.CounterVec
	LoadFailures    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New creates the collectors. They are not registered.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gameblocker_sessions_started_total",
			Help: "Total number of monitoring sessions initialized",
		}),
		KeysObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gameblocker_keys_observed_total",
			Help: "Total number of key identifiers consumed by armed detectors",
		}),
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameblocker_windows_total",
			Help: "Completed sampling windows by phase",
		}, []string{"phase"}),
		Blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameblocker_blocks_total",
			Help: "Block signals emitted by source",
		}, []string{"source"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameblocker_config_load_failures_total",
			Help: "Configuration documents that failed to load and degraded to empty",
		}, []string{"document"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameblocker_active_document_contexts",
			Help: "Number of document contexts currently monitored",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SessionsStarted,
		m.KeysObserved,
		m.Windows,
		m.Blocks,
		m.LoadFailures,
		m.ActiveSessions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) KeyObserved() {
	if m == nil {
		return
	}
	m.KeysObserved.Inc()
}

func (m *Metrics) WindowCompleted(phase string) {
	if m == nil {
		return
	}
	m.Windows.WithLabelValues(phase).Inc()
}

func (m *Metrics) Blocked(source string) {
	if m == nil {
		return
	}
	m.Blocks.WithLabelValues(source).Inc()
}

func (m *Metrics) LoadFailed(document string) {
	if m == nil {
		return
	}
	m.LoadFailures.WithLabelValues(document).Inc()
}

func (m *Metrics) ContextOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) ContextClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
