// Package metrics holds the coordinator's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liveclass",
		Name:      "open_connections",
		Help:      "Currently registered client connections.",
	})

	LiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liveclass",
		Name:      "live_rooms",
		Help:      "Rooms with at least one member.",
	})

	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "inbound_events_total",
		Help:      "Decoded inbound events by type.",
	}, []string{"type"})

	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "dropped_frames_total",
		Help:      "Outbound frames dropped because a recipient queue was full.",
	}, []string{"type"})

	UnresolvedSignals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "unresolved_signals_total",
		Help:      "Signals whose target connection was not open.",
	})

	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "protocol_errors_total",
		Help:      "Protocol errors reported back to senders.",
	}, []string{"event"})

	ArchivedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "archived_chat_messages_total",
		Help:      "Chat messages handed to the archive, by outcome.",
	}, []string{"outcome"})

	RelayDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "relay_dropped_total",
		Help:      "Envelopes not handed to the cross-instance bus because its queue was full.",
	}, []string{"type"})

	RefusedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "refused_connections_total",
		Help:      "Connection attempts refused at registry capacity.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
