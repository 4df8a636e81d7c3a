package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var opsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_operations_total",
		Help: "Session engine operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// RegisterMetrics attaches the engine's counters to the process registry.
func RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(opsCounter)
}
