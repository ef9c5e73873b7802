// Package telemetry holds the Prometheus metrics exported by the server and
// the agent.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vmwatch"

var (
	// AuditsIngested counts stored audits.
	// Labels: category
	AuditsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "audits_total",
		Help:      "Audits accepted by the server",
	}, []string{"category"})

	// AuditsRejected counts audits that never reached storage.
	// Labels: reason (validation, decrypt, storage)
	AuditsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "rejected_total",
		Help:      "Audits rejected by the server",
	}, []string{"reason"})

	// AlertsRaised counts generated alerts.
	// Labels: importance
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "alerts_total",
		Help:      "Alerts raised by the analysis engine",
	}, []string{"importance"})

	// IntrusionsDetected counts logins by users outside an allow-list.
	IntrusionsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "intrusions_total",
		Help:      "Intrusion alerts raised by the analysis engine",
	})

	// Notifications counts mail attempts.
	// Labels: result (sent, failed, suppressed)
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "emails_total",
		Help:      "Alert emails by outcome",
	}, []string{"result"})

	// EventsDropped counts alert events discarded for a full subscriber.
	// Labels: subscriber
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Alert events dropped because a subscriber was full",
	}, []string{"subscriber"})

	// CommandsDispatched counts commands sent to agents.
	// Labels: result (executed, rejected, failed, unreachable)
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "dispatched_total",
		Help:      "Commands sent from the server to agents",
	}, []string{"result"})

	// AuditsSent counts audits pushed by an agent.
	// Labels: category, result (sent, failed)
	AuditsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "audits_sent_total",
		Help:      "Audits pushed by the agent",
	}, []string{"category", "result"})

	// RequestDuration measures HTTP handling time.
	// Labels: method, route, status
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
