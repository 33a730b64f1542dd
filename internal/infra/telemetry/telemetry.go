// Package telemetry holds the tracing provider and the authentication
// outcome metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics counts authentication outcomes by operation.
type AuthMetrics struct {
	outcomes *prometheus.CounterVec
	lockouts prometheus.Counter
	delivery *prometheus.CounterVec
}

// NewAuthMetrics registers the collectors on registerer. A nil registerer
// uses the default registry.
func NewAuthMetrics(registerer prometheus.Registerer) *AuthMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &AuthMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolme",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Authentication operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolme",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after repeated failed logins.",
		}),
		delivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolme",
			Subsystem: "auth",
			Name:      "notification_failures_total",
			Help:      "Notification deliveries that failed, by message kind.",
		}, []string{"kind"}),
	}

	registerer.MustRegister(m.outcomes, m.lockouts, m.delivery)
	return m
}

// Observe records one operation outcome. Safe on a nil receiver.
func (m *AuthMetrics) Observe(operation, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}

// Lockout records an account lock.
func (m *AuthMetrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// NotificationFailed records a failed delivery of kind.
func (m *AuthMetrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.delivery.WithLabelValues(kind).Inc()
}
