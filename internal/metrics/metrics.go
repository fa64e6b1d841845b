// Package metrics exposes the transport's counters through Prometheus. The
// push-based counters/gauges (datagrams, bytes, peer lifecycle, retransmits,
// ACKs) are modeled on the simple Collector-wrapping-fields shape used
// elsewhere in the pack, updated directly from the event loop as things
// happen. Per-peer RTT is different: there is no "RTT changed" event to push
// on, only a live value to sample — so it follows
// exporter.TCPInfoCollector's pull-based pattern instead (exporter.go:
// Describe/Collect, with a mutex-guarded map populated by Add/Remove and
// drained on every scrape), collapsed from per-connection TCP_INFO sampling
// to per-peer smoothed-RTT sampling since this layer has no socket FD to
// introspect.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements transport.Metrics, reporting datagram, peer
// lifecycle, and retransmission counters to Prometheus, and doubles as a
// prometheus.Collector itself so per-peer RTT can be sampled on every scrape
// instead of pushed.
type Collector struct {
	datagramsSent     prometheus.Counter
	datagramsReceived prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	peersConnected    prometheus.Gauge
	peersTotal        prometheus.Counter
	disconnectsTotal  prometheus.Counter
	retransmits       prometheus.Counter
	acksSent          prometheus.Counter

	rttDesc *prometheus.Desc
	mu      sync.Mutex
	peers   map[string]func() time.Duration
}

// NewCollector builds a Collector with every metric named under the given
// prefix (e.g. "raknet"), ready to be registered with a
// prometheus.Registerer.
func NewCollector(prefix string, constLabels prometheus.Labels) *Collector {
	return &Collector{
		datagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_datagrams_sent_total",
			Help:        "UDP datagrams written to the wire.",
			ConstLabels: constLabels,
		}),
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_datagrams_received_total",
			Help:        "UDP datagrams read from the wire.",
			ConstLabels: constLabels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_bytes_sent_total",
			Help:        "Bytes written to the wire across all datagrams.",
			ConstLabels: constLabels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_bytes_received_total",
			Help:        "Bytes read from the wire across all datagrams.",
			ConstLabels: constLabels,
		}),
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_peers_connected",
			Help:        "Peers currently in the CONNECTED state.",
			ConstLabels: constLabels,
		}),
		peersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_peers_connected_total",
			Help:        "Cumulative count of peers that reached CONNECTED.",
			ConstLabels: constLabels,
		}),
		disconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_disconnects_total",
			Help:        "Cumulative count of peer disconnections, any reason.",
			ConstLabels: constLabels,
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_retransmits_total",
			Help:        "Reliable datagrams re-sent after their RTO elapsed.",
			ConstLabels: constLabels,
		}),
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        prefix + "_acks_sent_total",
			Help:        "Distinct reliable message numbers acknowledged.",
			ConstLabels: constLabels,
		}),
		rttDesc: prometheus.NewDesc(
			prefix+"_peer_rtt_seconds",
			"Smoothed round-trip-time estimate, sampled per connected peer on every scrape.",
			[]string{"peer"}, constLabels,
		),
		peers: make(map[string]func() time.Duration),
	}
}

// Register adds every push-based metric in c to reg, then registers c itself
// so its pull-based per-peer RTT gauge is sampled on every scrape.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.datagramsSent, c.datagramsReceived,
		c.bytesSent, c.bytesReceived,
		c.peersConnected, c.peersTotal,
		c.disconnectsTotal, c.retransmits, c.acksSent,
	}
	for _, coll := range collectors {
		if err := reg.Register(coll); err != nil {
			return err
		}
	}
	return reg.Register(c)
}

// Describe implements prometheus.Collector for the pull-based RTT gauge.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rttDesc
}

// Collect implements prometheus.Collector: it samples every tracked peer's
// current smoothed RTT, the same way exporter.TCPInfoCollector.Collect
// samples live TCP_INFO per tracked net.Conn.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, rtt := range c.peers {
		metrics <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, rtt().Seconds(), addr)
	}
}

// TrackPeer registers addr's live RTT supplier so Collect samples it on
// every scrape; called once a peer record is created.
func (c *Collector) TrackPeer(addr string, rtt func() time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[addr] = rtt
}

// UntrackPeer stops sampling addr's RTT; called once its peer record is
// removed.
func (c *Collector) UntrackPeer(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, addr)
}

// DatagramSent records one outbound datagram of n bytes.
func (c *Collector) DatagramSent(n int) {
	c.datagramsSent.Inc()
	c.bytesSent.Add(float64(n))
}

// DatagramReceived records one inbound datagram of n bytes.
func (c *Collector) DatagramReceived(n int) {
	c.datagramsReceived.Inc()
	c.bytesReceived.Add(float64(n))
}

// PeerConnected records a peer reaching CONNECTED.
func (c *Collector) PeerConnected() {
	c.peersConnected.Inc()
	c.peersTotal.Inc()
}

// PeerDisconnected records a peer leaving CONNECTED, for any reason.
func (c *Collector) PeerDisconnected() {
	c.peersConnected.Dec()
	c.disconnectsTotal.Inc()
}

// Retransmit records one RTO-triggered resend.
func (c *Collector) Retransmit() {
	c.retransmits.Inc()
}

// AckSent records n distinct reliable message numbers flushed in one ACK
// datagram.
func (c *Collector) AckSent(n int) {
	c.acksSent.Add(float64(n))
}
