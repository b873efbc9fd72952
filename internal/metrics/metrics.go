// Package metrics holds the Prometheus collectors of the chat engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "yoochat"

var (
	StreamsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "streams_started_total",
		Help:      "Stream sessions opened.",
	})

	// outcome: completed|empty|persist_failed|agent_error|cancelled|idle_timeout|overdue
	StreamsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "streams_finished_total",
		Help:      "Stream sessions removed, by outcome.",
	}, []string{"outcome"})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Stream sessions currently held by the registry.",
	})

	IngestedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_events_total",
		Help:      "Inbound agent events, by event type.",
	}, []string{"type"})

	LateEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "late_events_total",
		Help:      "Agent events for streams that are no longer active.",
	}, []string{"type"})

	GatewayRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_retries_total",
		Help:      "Retried outbound agent requests.",
	}, []string{"op"})

	GatewayFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_failures_total",
		Help:      "Outbound agent requests that failed after retries.",
	}, []string{"op", "kind"})

	AgentHealth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_health",
		Help:      "0 disconnected, 1 connecting, 2 connected.",
	})

	NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "User notifications dropped because the publish queue was full.",
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		StreamsStarted,
		StreamsFinished,
		ActiveStreams,
		IngestedEvents,
		LateEvents,
		GatewayRetries,
		GatewayFailures,
		AgentHealth,
		NotificationsDropped,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
