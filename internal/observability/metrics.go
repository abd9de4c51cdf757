package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreatedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "rides_created_total", Help: "Total ride requests created"})
	RidesCompletedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "rides_completed_total", Help: "Total rides completed"})
	RidesCanceledTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "rides_canceled_total", Help: "Total rides canceled"})
	AcceptAttemptsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "accept_attempts_total", Help: "Total driver accept attempts"})
	AcceptConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	FareRaisesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "fare_raises_total", Help: "Total passenger fare raises"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridelink", Name: "connected_ws_clients", Help: "Currently connected WebSocket clients"})
)
