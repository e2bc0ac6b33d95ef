// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TreeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "tree",
		Name:      "writes_total",
		Help:      "Committed tree writes by operation.",
	}, []string{"op"})

	TreeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatgifs",
		Subsystem: "tree",
		Name:      "subscriptions",
		Help:      "Live path subscriptions.",
	})

	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatgifs",
		Subsystem: "hub",
		Name:      "connections",
		Help:      "Open realtime websocket connections.",
	})

	HubReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "client",
		Name:      "hub_reconnects_total",
		Help:      "Hub connections restored after a drop.",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "client",
		Name:      "messages_sent_total",
		Help:      "Messages written by this client, by type.",
	}, []string{"type"})

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "client",
		Name:      "messages_dropped_total",
		Help:      "Malformed message records skipped while decoding a stream.",
	})

	PresenceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "presence",
		Name:      "checks_total",
		Help:      "Online status evaluations by result.",
	}, []string{"result"})

	GifRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatgifs",
		Subsystem: "gif",
		Name:      "requests_total",
		Help:      "Requests to the GIF provider by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	OutboxQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatgifs",
		Subsystem: "outbox",
		Name:      "queued",
		Help:      "Messages waiting in the local outbox.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
