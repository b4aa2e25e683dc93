package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Envelopes delivered to local listeners, per topic.",
	}, []string{"topic"})

	listenerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "bus",
		Name:      "listener_panics_total",
		Help:      "Listener panics recovered during dispatch, per topic.",
	}, []string{"topic"})

	relayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "bridge",
		Name:      "relay_total",
		Help:      "Relay attempts per sink and outcome.",
	}, []string{"sink", "outcome"})

	bridgeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "bridge",
		Name:      "dropped_total",
		Help:      "Envelopes dropped because the bridge queue was full.",
	})
)
