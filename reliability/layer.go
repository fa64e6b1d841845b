// Package reliability implements the ReliabilityLayer (spec §4.4–§4.6):
// one instance per connected peer, owning sequencing, reliability,
// ordering, ACK generation, retransmission, RTT estimation, and the
// connection state machine. It is the hard 55%-of-the-budget part of the
// system; everything else exists to frame bytes for it or multiplex it
// across peers.
package reliability

import (
	"time"

	"github.com/google/uuid"

	"github.com/samp-server-go/raknet/bitstream"
	"github.com/samp-server-go/raknet/protocol"
)

// State is a peer's position in the connection state machine (spec §4.6).
type State int

const (
	StateUnconnected State = iota
	StateUnverifiedConnected
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateUnverifiedConnected:
		return "UNVERIFIED_CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Tunable timing constants (spec §4.4, §4.6; flagged as recommended
// defaults, not verified interop values, per spec §9 open questions).
const (
	MinRTO         = time.Second
	MaxResends     = 10
	PingInterval   = 5 * time.Second
	IdleTimeout    = 10 * time.Second
	maxCoalesced   = 256 // hard ceiling on packets per datagram regardless of size
)

// EventKind distinguishes the outputs a Layer hands back to its owner on
// each Tick/HandleDatagram call.
type EventKind int

const (
	EventUserPacket EventKind = iota
	EventConnected
	EventDisconnected
)

// Event is one outward-facing occurrence the façade turns into an
// on_user_packet / on_connected / on_disconnected callback.
type Event struct {
	Kind    EventKind
	Payload []byte
	Reason  DisconnectReason
}

type resendEntry struct {
	packet      encapsulatedPacket
	firstSent   time.Time
	nextResend  time.Time
	resendCount int
}

// Role distinguishes which side of the handshake a Layer plays; the
// password check in spec §4.6 only runs on the Server role.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Layer is the per-peer reliability state machine described in spec §3
// "Peer state" and §4.4–§4.6. It is mutated only by its owner's single
// event loop tick (spec §5); it has no internal locking.
type Layer struct {
	role     Role
	password string // server-side expected password; empty means none required

	GUID uint64

	state        State
	createdAt    time.Time
	lastReceive  time.Time
	lastOutbound time.Time

	nextMessageNumber uint32
	channelOutOrder   [protocol.MaxOrderingChannels]uint32
	channelOutSeq     [protocol.MaxOrderingChannels]uint32
	channelInOrder    [protocol.MaxOrderingChannels]uint32
	channelLastSeq    [protocol.MaxOrderingChannels]uint32
	channelSeqSeen    [protocol.MaxOrderingChannels]bool
	outOfOrder        [protocol.MaxOrderingChannels]map[uint32][]byte

	received receivedWindow

	ackPending map[uint32]struct{}
	resendQ    map[uint32]*resendEntry
	outbox     []encapsulatedPacket

	srtt      time.Duration
	rttSeeded bool

	pingOutstanding bool
	pingSentAt      time.Time
	pingSentValue   uint32

	closing     bool // a disconnection notification has been queued; reap once flushed
	closeReason DisconnectReason

	lastTickNow time.Time // refreshed at the top of every Tick; used by Send for RTO bookkeeping

	peerAddr           string // the peer's network address, echoed back during handshake accept
	connectedEventSent bool

	pingInterval time.Duration
	idleTimeout  time.Duration
}

// Tuning overrides the recommended-default timing constants (spec §9 open
// question: "the exact timeout durations and PING interval are
// implementation-defined"). Zero values fall back to the package defaults.
type Tuning struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// New creates a Layer for a freshly-created peer. now is the creation
// timestamp; role distinguishes server/client handshake behavior; password
// is the server-side password ConnectionRequest must present (empty means
// none required).
func New(role Role, password string, now time.Time) *Layer {
	return NewWithTuning(role, password, now, Tuning{})
}

// NewWithTuning is New with explicit PING interval / idle timeout overrides.
func NewWithTuning(role Role, password string, now time.Time, tuning Tuning) *Layer {
	pingInterval := tuning.PingInterval
	if pingInterval <= 0 {
		pingInterval = PingInterval
	}
	idleTimeout := tuning.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = IdleTimeout
	}
	l := &Layer{
		role:         role,
		password:     password,
		GUID:         foldUUIDToGUID(uuid.New()),
		state:        StateUnverifiedConnected,
		createdAt:    now,
		lastReceive:  now,
		lastOutbound: now,
		ackPending:   make(map[uint32]struct{}),
		resendQ:      make(map[uint32]*resendEntry),
		lastTickNow:  now,
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
	}
	for i := range l.outOfOrder {
		l.outOfOrder[i] = make(map[uint32][]byte)
	}
	return l
}

func foldUUIDToGUID(id uuid.UUID) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i]^id[i+8])
	}
	return v
}

// State reports the peer's current connection state.
func (l *Layer) State() State { return l.state }

// RTT reports the current smoothed round-trip-time estimate.
func (l *Layer) RTT() time.Duration { return l.srtt }

// SetPeerAddress records the peer's network address for use in the
// handshake-accepted payload (spec S1: "accepted ... with client's external
// address echoed"). The Transport calls this once, at peer creation.
func (l *Layer) SetPeerAddress(addr string) { l.peerAddr = addr }

// MarkConnected is used by the offline handler/façade to fast-path a
// client straight to CONNECTED on receipt of OpenConnectionReply (spec
// §4.3's stated client behavior — see DESIGN.md for the accompanying
// on_connected firing rule).
func (l *Layer) MarkConnected() { l.state = StateConnected }

func (l *Layer) rto() time.Duration {
	if !l.rttSeeded {
		return MinRTO
	}
	rto := 2 * l.srtt
	if rto < MinRTO {
		return MinRTO
	}
	return rto
}

func (l *Layer) updateRTT(sample time.Duration) {
	if !l.rttSeeded {
		l.srtt = sample
		l.rttSeeded = true
		return
	}
	// SRTT <- 7/8 SRTT + 1/8 sample (spec §4.5).
	l.srtt = (l.srtt*7 + sample) / 8
}

// Send enqueues one application payload with the chosen reliability and
// ordering channel for transmission on the next Tick (spec §4.4).
func (l *Layer) Send(payload []byte, reliability protocol.Reliability, channel uint8) error {
	if len(payload) > protocol.MaxApplicationPayload {
		return ErrPayloadTooLarge
	}
	if channel >= protocol.MaxOrderingChannels {
		channel = channel % protocol.MaxOrderingChannels
	}

	pkt := encapsulatedPacket{Reliability: reliability, Payload: payload}

	if reliability.IsReliable() {
		pkt.MessageNumber = l.nextMessageNumber
		l.nextMessageNumber++
	}
	switch {
	case reliability.IsOrdered():
		// Ordered and Sequenced packets on the same channel are tracked by
		// the receiver in entirely separate state (channelInOrder vs
		// channelLastSeq/channelSeqSeen), so they must draw their outbound
		// index from separate counters too — sharing one would "burn" an
		// index the other class never produces, stalling ordered delivery
		// forever waiting for an index that will never arrive.
		pkt.OrderChannel = channel
		pkt.OrderIndex = l.channelOutOrder[channel]
		l.channelOutOrder[channel]++
	case reliability.IsSequenced():
		pkt.OrderChannel = channel
		pkt.OrderIndex = l.channelOutSeq[channel]
		l.channelOutSeq[channel]++
	}

	l.enqueueOutbound(pkt)
	return nil
}

// SendConnectionRequest queues the reliable ConnectionRequest a client
// sends immediately after its peer record is created (spec §4.6); password
// may be empty.
func (l *Layer) SendConnectionRequest(password string) {
	bs := bitstream.New()
	bs.WriteU8(byte(protocol.IDConnectionRequest))
	bs.WriteASCIIString(password)
	_ = l.Send(bs.Bytes(), protocol.Reliable, 0)
}

// enqueueOutbound appends pkt to the coalescing buffer, and — if reliable —
// clones it into the resend queue per spec §4.4 step 4.
func (l *Layer) enqueueOutbound(pkt encapsulatedPacket) {
	l.outbox = append(l.outbox, pkt)
	if pkt.Reliability.IsReliable() {
		now := l.lastTickNow
		l.resendQ[pkt.MessageNumber] = &resendEntry{
			packet:     pkt,
			firstSent:  now,
			nextResend: now.Add(l.rto()),
		}
	}
}

