// Package metrics defines the Prometheus collectors for the live channel and
// poll mutations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "quickpoll"

// Delivery failure reasons.
const (
	ReasonClosed = "closed"
	ReasonSlow   = "slow"
)

// Mutation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	ActiveSubscribers prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	Mutations         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "active_subscribers",
			Help:      "Number of live connections currently registered for broadcasts.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "events_published_total",
			Help:      "Total number of domain events published, by event type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "delivery_failures_total",
			Help:      "Total number of per-subscriber delivery failures, by reason.",
		}, []string{"reason"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polls",
			Name:      "mutations_total",
			Help:      "Total number of poll mutations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(m.ActiveSubscribers, m.EventsPublished, m.DeliveryFailures, m.Mutations)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere. Useful
// for tests and tools that do not serve /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
