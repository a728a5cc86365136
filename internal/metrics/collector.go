// Package lbmetrics exposes the Lb interface engine's state as Prometheus
// metrics: per-primitive RX/TX counters, location request outcome counters,
// and peer/connection/subscriber population gauges. Mirrors the counter and
// stat item groups smlc_data.c registers per smlc_ctr_description and
// smlc_stat_item_description.
package lbmetrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "smlcd"
	subsystem = "lb"
)

const (
	labelPrimitive = "primitive"
	labelResult    = "result"
	labelPeerAddr  = "peer_addr"
)

// Collector holds every Lb interface Prometheus metric.
type Collector struct {
	// PrimitivesRx counts SCCP user SAP primitives received, by primitive
	// name (n-connect.ind, n-data.ind, ...).
	PrimitivesRx *prometheus.CounterVec

	// PrimitivesTx counts BSSMAP-LE messages transmitted, by message type
	// (RESET, PERFORM-LOCATION-RESPONSE, ...).
	PrimitivesTx *prometheus.CounterVec

	// LocationRequests counts completed location requests by outcome
	// (success, failure, aborted).
	LocationRequests *prometheus.CounterVec

	// PeersTotal is the number of Lb peers currently tracked, regardless of
	// RESET handshake state.
	PeersTotal prometheus.Gauge

	// PeerActive is 1 for a peer in READY state, 0 otherwise.
	PeerActive *prometheus.GaugeVec

	// ConnsTotal is the number of SCCP connections currently open across
	// every peer.
	ConnsTotal prometheus.Gauge

	// SubscribersTotal is the number of subscribers currently tracked in
	// the registry (bound to a connection and/or an in-flight request).
	SubscribersTotal prometheus.Gauge
}

// NewCollector creates a Collector and registers every metric against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PrimitivesRx,
		c.PrimitivesTx,
		c.LocationRequests,
		c.PeersTotal,
		c.PeerActive,
		c.ConnsTotal,
		c.SubscribersTotal,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		PrimitivesRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "primitives_rx_total",
			Help:      "Total SCCP user SAP primitives received.",
		}, []string{labelPrimitive}),

		PrimitivesTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "primitives_tx_total",
			Help:      "Total BSSMAP-LE messages transmitted.",
		}, []string{labelPrimitive}),

		LocationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "location_requests_total",
			Help:      "Total completed location requests by outcome.",
		}, []string{labelResult}),

		PeersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers_total",
			Help:      "Number of Lb peers currently tracked.",
		}),

		PeerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peer_active",
			Help:      "1 if the peer's RESET handshake is in READY state, 0 otherwise.",
		}, []string{labelPeerAddr}),

		ConnsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conns_total",
			Help:      "Number of SCCP connections currently open across every peer.",
		}),

		SubscribersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_total",
			Help:      "Number of subscribers currently tracked in the registry.",
		}),
	}
}

// IncRxPrimitive increments the received-primitive counter for name.
func (c *Collector) IncRxPrimitive(name string) {
	c.PrimitivesRx.WithLabelValues(name).Inc()
}

// IncTxPrimitive increments the transmitted-message counter for name.
func (c *Collector) IncTxPrimitive(name string) {
	c.PrimitivesTx.WithLabelValues(name).Inc()
}

// IncLocationRequests increments the location request outcome counter for
// result ("success", "failure", or "aborted").
func (c *Collector) IncLocationRequests(result string) {
	c.LocationRequests.WithLabelValues(result).Inc()
}

// SetPeersTotal sets the peers-tracked gauge.
func (c *Collector) SetPeersTotal(n int) {
	c.PeersTotal.Set(float64(n))
}

// SetPeerActive sets peerAddr's READY-state gauge to 1 (active) or 0.
func (c *Collector) SetPeerActive(peerAddr string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.PeerActive.WithLabelValues(peerAddr).Set(v)
}

// SetConnsTotal sets the open-connections gauge.
func (c *Collector) SetConnsTotal(n int) {
	c.ConnsTotal.Set(float64(n))
}

// SetSubscribersTotal sets the tracked-subscribers gauge.
func (c *Collector) SetSubscribersTotal(n int) {
	c.SubscribersTotal.Set(float64(n))
}
