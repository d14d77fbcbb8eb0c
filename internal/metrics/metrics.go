// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes a gauge for live connections, counters for event and message
// throughput, and histograms for handler latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiora_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// DisconnectsTotal counts connections dropped by the server, by reason:
	// "close", "read", "timeout" or "ping".
	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_disconnects_total",
		Help: "Connections dropped by reason",
	}, []string{"reason"})

	// EventsTotal counts handled client events by name and outcome. The
	// outcome is "ok" or the error kind.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_events_total",
		Help: "Total number of client events handled",
	}, []string{"event", "outcome"})

	// EventLatency records handler latency in seconds, middleware included.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiora_event_latency_seconds",
		Help:    "Event handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// MessagesTotal counts stored messages by message type.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_messages_total",
		Help: "Total number of messages stored",
	}, []string{"type"})

	// FanoutTotal counts outbound fan-out operations: "room", "direct" or "remote".
	FanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_fanout_total",
		Help: "Total number of fan-out deliveries",
	}, []string{"kind"})

	// RosterCache counts roster lookups by outcome: "hit", "miss" or "unchanged".
	RosterCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_roster_cache_total",
		Help: "Roster cache lookups by outcome",
	}, []string{"outcome"})

	// SealsTotal counts seals placed, by kind: "user" or "ip".
	SealsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_seals_total",
		Help: "Total number of seals placed",
	}, []string{"kind"})

	// PushTotal counts mobile push attempts by outcome.
	PushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiora_push_total",
		Help: "Mobile push notifications by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		DisconnectsTotal,
		EventsTotal,
		EventLatency,
		MessagesTotal,
		FanoutTotal,
		RosterCache,
		SealsTotal,
		PushTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
