package peer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peerConnectedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mutegrid_peer_connected",
			Help: "Whether each configured peer is connected (1) or not (0)",
		},
		[]string{"peer"},
	)

	peerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutegrid_peer_connects_total",
			Help: "Total number of successful peer connections",
		},
	)

	aggregateCode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutegrid_conductor_aggregate_code",
			Help: "Tri-state aggregate over connected peers (0-2), -1 when undefined",
		},
	)
)

func observePeerConnected(name string, connected bool) {
	if name == "" {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	peerConnectedGauge.WithLabelValues(name).Set(value)
}

// ObserveAggregate records the conductor aggregate for scraping.
func ObserveAggregate(code int, defined bool) {
	if !defined {
		aggregateCode.Set(-1)
		return
	}
	aggregateCode.Set(float64(code))
}
