package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the per-participant counters and gauges the peer
// transport exposes.
type Metrics struct {
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	SlowPeers     prometheus.Gauge
	PeersActive   prometheus.Gauge
}

// NewMetrics registers a fresh set of peer-transport metrics against
// reg. Passing a nil registry is valid and yields unregistered,
// harmlessly-usable metrics — convenient for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silkit_transport_bytes_sent_total",
			Help: "Total bytes written to peer connections.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silkit_transport_bytes_received_total",
			Help: "Total bytes read from peer connections.",
		}),
		SlowPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silkit_transport_slow_peers",
			Help: "Number of peers whose outbound queue is over the high-water mark.",
		}),
		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silkit_transport_peers_active",
			Help: "Number of currently connected peers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BytesSent, m.BytesReceived, m.SlowPeers, m.PeersActive)
	}
	return m
}
