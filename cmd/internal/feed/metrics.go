package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "feed",
		Name:      "connected_clients",
		Help:      "Currently attached WebSocket feed clients.",
	})

	deliveredEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "feed",
		Name:      "delivered_total",
		Help:      "Envelopes written to feed connections.",
	})

	droppedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "feed",
		Name:      "dropped_total",
		Help:      "Envelopes dropped because a client queue was full.",
	})
)
