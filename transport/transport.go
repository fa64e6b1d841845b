// Package transport owns the UDP socket and the single-threaded event loop
// that multiplexes it across connected peers (spec §5 "Concurrency model"):
// one goroutine reads datagrams and drives timers; every peer's
// reliability.Layer is touched only from that goroutine. Callers on other
// goroutines (Send, Close, peer enumeration) marshal their requests onto the
// loop through a command channel rather than taking a lock, mirroring the
// teacher's own single-owner update loop (source/server/server.go's
// updateLoop/sessionCleanupLoop) but collapsed into one loop instead of two
// competing goroutines.
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/samp-server-go/raknet/offline"
	"github.com/samp-server-go/raknet/pkg/logger"
	"github.com/samp-server-go/raknet/protocol"
	"github.com/samp-server-go/raknet/reliability"
)

// TickInterval is how often the loop advances every peer's reliability
// timers, matching the teacher's 50ms update cadence.
const TickInterval = 50 * time.Millisecond

// Handlers are the application's callbacks, invoked synchronously from the
// event loop goroutine — never concurrently, never re-entrantly.
type Handlers struct {
	OnUserPacket   func(addr string, payload []byte)
	OnConnected    func(addr string)
	OnDisconnected func(addr string, reason reliability.DisconnectReason)
}

// PeerInfo is a read-only snapshot of one connected peer, returned by
// Peers() for enumeration from outside the loop.
type PeerInfo struct {
	Address string
	GUID    uint64
	State   reliability.State
	RTT     time.Duration
}

type outboundSend struct {
	addr        string
	payload     []byte
	reliability protocol.Reliability
	channel     uint8
	errCh       chan error
}

type closeRequest struct {
	addr string
	done chan struct{}
}

type dialRequest struct {
	addr string
	done chan struct{}
}

type peersRequest struct {
	result chan []PeerInfo
}

// Transport binds one UDP socket and runs the peer table + event loop for
// it (spec §4.6's "bind(address, port)" / "close(address)" operations).
type Transport struct {
	conn     *net.UDPConn
	password string
	role     reliability.Role
	tuning   reliability.Tuning

	peers map[string]*reliability.Layer

	handlers Handlers
	metrics  Metrics

	sendCh  chan outboundSend
	closeCh chan closeRequest
	dialCh  chan dialRequest
	peersCh chan peersRequest
	stopCh  chan struct{}
	doneCh  chan struct{}
	inbox   chan inboundDatagram
}

// Metrics is the narrow surface the transport reports into; raknet.Config
// supplies a Prometheus-backed implementation when metrics are enabled.
type Metrics interface {
	DatagramSent(n int)
	DatagramReceived(n int)
	PeerConnected()
	PeerDisconnected()
	Retransmit()
	AckSent(n int)
	TrackPeer(addr string, rtt func() time.Duration)
	UntrackPeer(addr string)
}

type noopMetrics struct{}

func (noopMetrics) DatagramSent(int)                       {}
func (noopMetrics) DatagramReceived(int)                   {}
func (noopMetrics) PeerConnected()                         {}
func (noopMetrics) PeerDisconnected()                      {}
func (noopMetrics) Retransmit()                            {}
func (noopMetrics) AckSent(int)                            {}
func (noopMetrics) TrackPeer(string, func() time.Duration) {}
func (noopMetrics) UntrackPeer(string)                     {}

// Options configure a bound Transport.
type Options struct {
	Password string
	Role     reliability.Role
	Handlers Handlers
	Metrics  Metrics
	Tuning   reliability.Tuning
}

// Bind opens a UDP socket at addr and starts its event loop goroutine (spec
// §4.6 bind).
func Bind(addr string, opts Options) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	t := &Transport{
		conn:     conn,
		password: opts.Password,
		role:     opts.Role,
		tuning:   opts.Tuning,
		peers:    make(map[string]*reliability.Layer),
		handlers: opts.Handlers,
		metrics:  metrics,
		sendCh:   make(chan outboundSend),
		closeCh:  make(chan closeRequest),
		dialCh:   make(chan dialRequest),
		peersCh:  make(chan peersRequest),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		inbox:    make(chan inboundDatagram),
	}

	go t.readLoop()
	go t.eventLoop()
	return t, nil
}

// LocalAddr reports the bound UDP address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Send marshals an application-payload send onto the event loop for the
// named peer (spec §4.6 send).
func (t *Transport) Send(addr string, payload []byte, r protocol.Reliability, channel uint8) error {
	errCh := make(chan error, 1)
	select {
	case t.sendCh <- outboundSend{addr: addr, payload: payload, reliability: r, channel: channel, errCh: errCh}:
	case <-t.doneCh:
		return fmt.Errorf("transport: closed")
	}
	return <-errCh
}

// Close either disconnects one peer (addr != "") or shuts the transport
// down entirely (addr == ""), per spec §4.6 close(address).
func (t *Transport) Close(addr string) {
	if addr == "" {
		close(t.stopCh)
		<-t.doneCh
		t.conn.Close()
		return
	}
	done := make(chan struct{})
	select {
	case t.closeCh <- closeRequest{addr: addr, done: done}:
		<-done
	case <-t.doneCh:
	}
}

// Dial writes the raw OpenConnectionRequest offline datagram to remoteAddr
// (spec §4.3: client-initiated handshake). It does not block for the
// server's reply; the peer record is created once HandleClient recognizes
// OpenConnectionReply arriving from remoteAddr.
func (t *Transport) Dial(remoteAddr string) error {
	done := make(chan struct{})
	select {
	case t.dialCh <- dialRequest{addr: remoteAddr, done: done}:
		<-done
		return nil
	case <-t.doneCh:
		return fmt.Errorf("transport: closed")
	}
}

// Peers returns a snapshot of every currently tracked peer.
func (t *Transport) Peers() []PeerInfo {
	result := make(chan []PeerInfo, 1)
	select {
	case t.peersCh <- peersRequest{result: result}:
		return <-result
	case <-t.doneCh:
		return nil
	}
}

type inboundDatagram struct {
	data []byte
	addr string
}

// readLoop is the only goroutine that reads from the raw socket; it hands
// every datagram to the event loop over an unbuffered channel so decoding
// and peer-state mutation stay on a single goroutine (spec §5).
func (t *Transport) readLoop() {
	buf := make([]byte, protocol.MaxMTU+64)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			close(t.inbox)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.inbox <- inboundDatagram{data: data, addr: addr.String()}:
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) eventLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return

		case dg, ok := <-t.inbox:
			if !ok {
				return
			}
			t.handleDatagram(dg.data, dg.addr)

		case req := <-t.sendCh:
			req.errCh <- t.handleSend(req)

		case req := <-t.closeCh:
			t.handleClose(req.addr)
			close(req.done)

		case req := <-t.dialCh:
			t.writeTo(req.addr, offline.EncodeOpenConnectionRequest())
			close(req.done)

		case req := <-t.peersCh:
			req.result <- t.snapshotPeers()

		case now := <-ticker.C:
			t.tickAll(now)
		}
	}
}

func (t *Transport) handleDatagram(data []byte, addr string) {
	t.metrics.DatagramReceived(len(data))

	if offline.IsOfflineMessage(data) {
		t.handleOfflineDatagram(data, addr)
		return
	}

	peer, ok := t.peers[addr]
	if !ok {
		return // not an offline message and no session: drop (spec §7)
	}
	events := peer.HandleDatagram(data, time.Now())
	t.dispatchEvents(addr, events)
}

func (t *Transport) handleOfflineDatagram(data []byte, addr string) {
	var decision offline.Decision
	switch t.role {
	case reliability.RoleServer:
		decision = offline.HandleServer(data)
	default:
		decision = offline.HandleClient(data)
	}

	switch decision {
	case offline.CreatePeerAndReply:
		if _, exists := t.peers[addr]; !exists {
			layer := reliability.NewWithTuning(t.role, t.password, time.Now(), t.tuning)
			layer.SetPeerAddress(addr)
			t.peers[addr] = layer
			t.metrics.TrackPeer(addr, layer.RTT)
		}
		t.writeTo(addr, offline.EncodeOpenConnectionReply())

	case offline.ClientConnected:
		layer, ok := t.peers[addr]
		if !ok {
			layer = reliability.NewWithTuning(reliability.RoleClient, t.password, time.Now(), t.tuning)
			layer.SetPeerAddress(addr)
			t.peers[addr] = layer
			t.metrics.TrackPeer(addr, layer.RTT)
		}
		layer.MarkConnected()
		layer.SendConnectionRequest(t.password)
	}
}

func (t *Transport) handleSend(req outboundSend) error {
	peer, ok := t.peers[req.addr]
	if !ok {
		return fmt.Errorf("transport: unknown peer %q", req.addr)
	}
	return peer.Send(req.payload, req.reliability, req.channel)
}

func (t *Transport) handleClose(addr string) {
	peer, ok := t.peers[addr]
	if !ok {
		return
	}
	peer.Close(time.Now())
}

func (t *Transport) snapshotPeers() []PeerInfo {
	out := make([]PeerInfo, 0, len(t.peers))
	for addr, peer := range t.peers {
		out = append(out, PeerInfo{
			Address: addr,
			GUID:    peer.GUID,
			State:   peer.State(),
			RTT:     peer.RTT(),
		})
	}
	return out
}

func (t *Transport) tickAll(now time.Time) {
	for addr, peer := range t.peers {
		res := peer.Tick(now)
		for i := 0; i < res.Retransmits; i++ {
			t.metrics.Retransmit()
		}
		if res.AcksSent > 0 {
			t.metrics.AckSent(res.AcksSent)
		}
		for _, dg := range res.Datagrams {
			t.writeTo(addr, dg)
		}
		t.dispatchEvents(addr, res.Events)
		if peer.State() == reliability.StateDisconnected {
			delete(t.peers, addr)
			t.metrics.UntrackPeer(addr)
		}
	}
}

func (t *Transport) dispatchEvents(addr string, events []reliability.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case reliability.EventUserPacket:
			if t.handlers.OnUserPacket != nil {
				t.handlers.OnUserPacket(addr, ev.Payload)
			}
		case reliability.EventConnected:
			t.metrics.PeerConnected()
			if t.handlers.OnConnected != nil {
				t.handlers.OnConnected(addr)
			}
		case reliability.EventDisconnected:
			t.metrics.PeerDisconnected()
			if t.handlers.OnDisconnected != nil {
				t.handlers.OnDisconnected(addr, ev.Reason)
			}
		}
	}
}

func (t *Transport) writeTo(addr string, data []byte) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Warn("transport: cannot resolve peer address %q: %v", addr, err)
		return
	}
	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		logger.Warn("transport: write to %s failed: %v", addr, err)
		return
	}
	t.metrics.DatagramSent(len(data))
}
