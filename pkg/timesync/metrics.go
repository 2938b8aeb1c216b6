package timesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the step watchdog.
type Metrics struct {
	StepDuration prometheus.Histogram
	HardTimeouts prometheus.Counter
}

// NewMetrics registers a fresh set of time-sync metrics against reg.
// Passing a nil registry yields unregistered, harmlessly-usable
// metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "silkit_timesync_step_duration_seconds",
			Help:    "Wall-clock duration of each simulation step handler invocation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		HardTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silkit_timesync_hard_timeouts_total",
			Help: "Number of simulation steps that ran past the hard watchdog timeout.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StepDuration, m.HardTimeouts)
	}
	return m
}
