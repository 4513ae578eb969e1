package mute

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	groupMuteCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mutegrid_group_mute_code",
			Help: "Fault-encoded mute code (0-5) currently published for each group",
		},
		[]string{"group"},
	)

	globalMuteCode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutegrid_global_mute_code",
			Help: "Fault-encoded mute code (0-5) of the global aggregate, -1 when undefined",
		},
	)

	faultActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutegrid_fault_active",
			Help: "Whether any amplifier fault is active (1) or not (0)",
		},
	)

	flashEdgesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutegrid_flash_edges_total",
			Help: "Total number of flash clock edges observed",
		},
	)

	groupRecomputesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutegrid_group_recomputes_total",
			Help: "Total number of group aggregate recomputations",
		},
	)

	coalescedCommandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutegrid_coalesced_commands_total",
			Help: "Total number of zone commands absorbed by a coalescing window",
		},
	)

	ignoredCommandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutegrid_ignored_commands_total",
			Help: "Total number of unparseable commands silently ignored",
		},
	)
)

func observeGroupCode(g, code int) {
	groupMuteCode.WithLabelValues(strconv.Itoa(g + 1)).Set(float64(code))
}

func observeGlobalCode(code int) {
	globalMuteCode.Set(float64(code))
}

func observeFaultActive(active bool) {
	if active {
		faultActive.Set(1)
	} else {
		faultActive.Set(0)
	}
}
