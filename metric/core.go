package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics shared by workers.
// Component-specific metrics are registered separately via the registry.
type Metrics struct {
	// Message flow metrics
	MessagesReceived  *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	RoutingFailures   *prometheus.CounterVec

	// Flow-control metrics
	WindowWaiting     *prometheus.GaugeVec
	WindowInFlight    *prometheus.GaugeVec
	ConnectorPaused   *prometheus.GaugeVec
	ThrottleState     *prometheus.GaugeVec

	// Failure ledger metrics
	FailuresStored   *prometheus.CounterVec
	RetriesDelivered prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received per connector",
			},
			[]string{"connector", "direction"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages published per connector",
			},
			[]string{"connector", "direction"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of transport events published per connector and event type",
			},
			[]string{"connector", "event_type"},
		),

		RoutingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "dispatcher",
				Name:      "routing_failures_total",
				Help:      "Messages dropped because no route matched",
			},
			[]string{"connector", "direction"},
		),

		WindowWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vumigo",
				Subsystem: "window",
				Name:      "waiting",
				Help:      "Items waiting for a flight slot per window",
			},
			[]string{"window"},
		),

		WindowInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vumigo",
				Subsystem: "window",
				Name:      "in_flight",
				Help:      "Items currently in flight per window",
			},
			[]string{"window"},
		),

		ConnectorPaused: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vumigo",
				Subsystem: "connector",
				Name:      "paused",
				Help:      "Whether a connector stream is paused (1) or consuming (0)",
			},
			[]string{"connector", "direction"},
		),

		ThrottleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vumigo",
				Subsystem: "transport",
				Name:      "throttled",
				Help:      "Whether a transport is currently throttled by its peer",
			},
			[]string{"transport"},
		),

		FailuresStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "failures",
				Name:      "stored_total",
				Help:      "Failure ledger entries stored, by retry classification",
			},
			[]string{"transport", "kind"},
		),

		RetriesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vumigo",
				Subsystem: "failures",
				Name:      "retries_delivered_total",
				Help:      "Messages re-published by the retry delivery sweep",
			},
		),
	}
}
