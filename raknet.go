// Package raknet is the public façade over this module's reliable-UDP
// transport: a RakNet 3.25-style reliability layer (bitstream, protocol,
// offline handshake, reliability, transport) assembled behind Bind/Dial,
// Send, Close, and a small set of event hooks. Internally it is built the
// same way the teacher repo structures a UDP server — a bound socket, a
// single owning event loop, and a functional-options Config — just
// generalized from the SA-MP game protocol to the spec's general-purpose
// reliability layer.
package raknet

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/samp-server-go/raknet/internal/metrics"
	"github.com/samp-server-go/raknet/pkg/logger"
	"github.com/samp-server-go/raknet/protocol"
	"github.com/samp-server-go/raknet/reliability"
	"github.com/samp-server-go/raknet/transport"
)

// Reliability re-exports protocol.Reliability so callers never need to
// import the protocol package directly for ordinary send() calls.
type Reliability = protocol.Reliability

const (
	Unreliable          = protocol.Unreliable
	UnreliableSequenced = protocol.UnreliableSequenced
	Reliable            = protocol.Reliable
	ReliableOrdered     = protocol.ReliableOrdered
	ReliableSequenced   = protocol.ReliableSequenced
)

// DisconnectReason re-exports reliability.DisconnectReason for on_disconnected
// hooks.
type DisconnectReason = reliability.DisconnectReason

// Config holds every bind-time setting, built up via functional Option
// values (the teacher's WithX pattern, e.g. server.WithLogger in the wider
// example pack).
type Config struct {
	password     string
	pingInterval time.Duration
	idleTimeout  time.Duration
	metrics      *metrics.Collector
	registerer   prometheus.Registerer

	onUserPacket   func(peerID string, payload []byte)
	onConnected    func(peerID string)
	onDisconnected func(peerID string, reason DisconnectReason)
}

// Option configures a Config value passed to Bind/Dial.
type Option func(*Config)

// WithPassword requires ConnectionRequest to present this password (spec
// §4.6); an empty password (the default) means none is required.
func WithPassword(password string) Option {
	return func(c *Config) { c.password = password }
}

// WithPingInterval overrides the default keepalive ping cadence (spec §9:
// "the exact timeout durations and PING interval are implementation-defined").
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithIdleTimeout overrides how long a peer may stay silent before being
// reaped (spec §4.6).
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithMetrics enables a Prometheus collector under the given metric name
// prefix, registered against reg.
func WithMetrics(prefix string, reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.metrics = metrics.NewCollector(prefix, nil)
		c.registerer = reg
	}
}

// OnUserPacket sets the callback invoked for every application payload
// received from a connected peer (spec §6).
func OnUserPacket(fn func(peerID string, payload []byte)) Option {
	return func(c *Config) { c.onUserPacket = fn }
}

// OnConnected sets the callback invoked once a peer reaches CONNECTED.
func OnConnected(fn func(peerID string)) Option {
	return func(c *Config) { c.onConnected = fn }
}

// OnDisconnected sets the callback invoked when a peer's session ends, for
// any reason, including a peer refused or timed out before reaching
// CONNECTED.
func OnDisconnected(fn func(peerID string, reason DisconnectReason)) Option {
	return func(c *Config) { c.onDisconnected = fn }
}

func newConfig(opts []Option) *Config {
	c := &Config{
		pingInterval: reliability.PingInterval,
		idleTimeout:  reliability.IdleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peer is a connected remote endpoint, identified the same way across the
// lifetime of one session by a correlation ID suitable for log lines (spec
// GLOSSARY "System Address" is the wire identity; PeerID is this module's
// log-friendly handle for it).
type Peer struct {
	ID      string
	Address string
	GUID    uint64
}

// Transport is a bound socket running the reliability layer for every peer
// connected to it; the result of Bind or Dial.
type Transport struct {
	inner  *transport.Transport
	cfg    *Config
	peerID map[string]string // network address -> stable peer ID
}

// Bind opens addr as a server socket and starts accepting connections
// (spec §4.6 bind(address, port)).
func Bind(addr string, opts ...Option) (*Transport, error) {
	return newTransport(addr, reliability.RoleServer, opts)
}

// Dial opens a client socket and begins the handshake toward remoteAddr
// (spec §4.3's client-initiated OpenConnectionRequest).
func Dial(localAddr, remoteAddr string, opts ...Option) (*Transport, error) {
	t, err := newTransport(localAddr, reliability.RoleClient, opts)
	if err != nil {
		return nil, err
	}
	if err := t.inner.Dial(remoteAddr); err != nil {
		return nil, err
	}
	return t, nil
}

func newTransport(addr string, role reliability.Role, opts []Option) (*Transport, error) {
	cfg := newConfig(opts)

	if cfg.metrics != nil && cfg.registerer != nil {
		if err := cfg.metrics.Register(cfg.registerer); err != nil {
			return nil, fmt.Errorf("raknet: registering metrics: %w", err)
		}
	}

	t := &Transport{cfg: cfg, peerID: make(map[string]string)}

	var metricsAdapter transport.Metrics
	if cfg.metrics != nil {
		metricsAdapter = cfg.metrics
	}

	inner, err := transport.Bind(addr, transport.Options{
		Password: cfg.password,
		Role:     role,
		Metrics:  metricsAdapter,
		Tuning: reliability.Tuning{
			PingInterval: cfg.pingInterval,
			IdleTimeout:  cfg.idleTimeout,
		},
		Handlers: transport.Handlers{
			OnUserPacket:   t.handleUserPacket,
			OnConnected:    t.handleConnected,
			OnDisconnected: t.handleDisconnected,
		},
	})
	if err != nil {
		return nil, err
	}
	t.inner = inner
	return t, nil
}

func (t *Transport) peerIDFor(addr string) string {
	id, ok := t.peerID[addr]
	if !ok {
		id = xid.New().String()
		t.peerID[addr] = id
	}
	return id
}

func (t *Transport) handleUserPacket(addr string, payload []byte) {
	if t.cfg.onUserPacket != nil {
		t.cfg.onUserPacket(t.peerIDFor(addr), payload)
	}
}

func (t *Transport) handleConnected(addr string) {
	logger.Debug("raknet: peer %s connected", addr)
	if t.cfg.onConnected != nil {
		t.cfg.onConnected(t.peerIDFor(addr))
	}
}

func (t *Transport) handleDisconnected(addr string, reason DisconnectReason) {
	logger.Debug("raknet: peer %s disconnected (%s)", addr, reason)
	if t.cfg.onDisconnected != nil {
		t.cfg.onDisconnected(t.peerIDFor(addr), reason)
	}
	delete(t.peerID, addr)
}

// Send transmits payload to the peer identified by peerID with the given
// reliability and ordering channel (spec §4.6 send(address, data, ...)).
// A payload whose leading byte is one of the transport's own handshake,
// keepalive, or disconnect opcodes is intercepted by the receiving peer
// instead of being delivered to OnUserPacket; any other payload is
// delivered. Leading with an opcode at or above protocol.IDUserPacketEnum
// (0x86) stays clear of that set.
func (t *Transport) Send(peerID string, payload []byte, r Reliability, channel uint8) error {
	addr := t.resolveAddr(peerID)
	if addr == "" {
		return fmt.Errorf("raknet: unknown peer %q", peerID)
	}
	return t.inner.Send(addr, payload, r, channel)
}

func (t *Transport) resolveAddr(peerID string) string {
	for addr, id := range t.peerID {
		if id == peerID {
			return addr
		}
	}
	return ""
}

// Peers lists every currently tracked peer.
func (t *Transport) Peers() []Peer {
	infos := t.inner.Peers()
	out := make([]Peer, 0, len(infos))
	for _, info := range infos {
		out = append(out, Peer{
			ID:      t.peerIDFor(info.Address),
			Address: info.Address,
			GUID:    info.GUID,
		})
	}
	return out
}

// Close disconnects one peer (close(peerID)) or, given an empty string,
// shuts the whole transport down (spec §4.6 close(address)).
func (t *Transport) Close(peerID string) {
	if peerID == "" {
		t.inner.Close("")
		return
	}
	addr := t.resolveAddr(peerID)
	if addr == "" {
		return
	}
	t.inner.Close(addr)
}
