package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors. They are updated whether or not they are registered; RegisterMetrics
// exposes them.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "venue",
		Subsystem: "outbound",
		Name:      "breaker_state",
		Help:      "Breaker state per target: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venue",
		Subsystem: "outbound",
		Name:      "breaker_transitions_total",
		Help:      "Breaker state transitions per target.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venue",
		Subsystem: "outbound",
		Name:      "breaker_opened_total",
		Help:      "Times a breaker opened per target.",
	}, []string{"target"})
)

// RegisterMetrics registers the breaker collectors on reg. Repeated registration is ignored.
func RegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
