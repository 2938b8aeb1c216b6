package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the FSM's current state as a gauge, using the
// state's ordinal value.
type Metrics struct {
	State prometheus.Gauge
}

// NewMetrics registers a fresh lifecycle metric set against reg.
// Passing a nil registry yields an unregistered, harmlessly-usable
// gauge.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silkit_lifecycle_state",
			Help: "Current lifecycle state, as the state enum's ordinal.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.State)
	}
	return m
}
