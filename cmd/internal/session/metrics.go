package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pulse",
	Subsystem: "session",
	Name:      "rotations_total",
	Help:      "Rotation attempts by outcome (ok, transport_error, rejected).",
}, []string{"outcome"})
