package reliability

import (
	"time"

	"github.com/samp-server-go/raknet/bitstream"
	"github.com/samp-server-go/raknet/protocol"
)

// HandleDatagram decodes one raw UDP datagram already routed to this peer
// (spec §4.5) and returns zero or more outward events. ACK datagrams never
// produce events; they only retire resend-queue entries and update RTT.
func (l *Layer) HandleDatagram(data []byte, now time.Time) []Event {
	l.lastReceive = now
	bs := bitstream.FromBytes(data)

	isACK, err := bs.ReadBool()
	if err != nil {
		return nil
	}
	if isACK {
		l.handleACK(bs, now)
		return nil
	}

	hasRemoteTime, err := bs.ReadBool()
	if err != nil {
		return nil
	}
	if hasRemoteTime {
		if _, err := bs.ReadBits(32); err != nil {
			return nil
		}
	}

	var events []Event
	for bs.Remaining() >= 3 {
		pkt, err := decodeEncapsulatedPacket(bs)
		if err != nil {
			break
		}
		events = append(events, l.processEncapsulated(pkt, now)...)
	}
	return events
}

func (l *Layer) handleACK(bs *bitstream.BitStream, now time.Time) {
	for _, n := range decodeACKRanges(bs) {
		entry, ok := l.resendQ[n]
		if !ok {
			continue
		}
		l.updateRTT(now.Sub(entry.firstSent))
		delete(l.resendQ, n)
	}
}

// processEncapsulated applies dedup, ordering, and sequencing per spec
// §4.5, then hands any delivered payloads to dispatch.
func (l *Layer) processEncapsulated(pkt encapsulatedPacket, now time.Time) []Event {
	if pkt.Reliability.IsReliable() {
		if l.received.CheckAndMark(pkt.MessageNumber) {
			return nil // duplicate, drop (spec §8.4)
		}
		l.ackPending[pkt.MessageNumber] = struct{}{}
	}

	var payloads [][]byte

	switch {
	case pkt.Reliability.IsOrdered():
		ch := pkt.OrderChannel
		expected := l.channelInOrder[ch]
		switch {
		case pkt.OrderIndex < expected:
			return nil // stale duplicate, drop
		case pkt.OrderIndex == expected:
			payloads = append(payloads, pkt.Payload)
			l.channelInOrder[ch] = expected + 1
			for {
				next := l.channelInOrder[ch]
				buffered, ok := l.outOfOrder[ch][next]
				if !ok {
					break
				}
				payloads = append(payloads, buffered)
				delete(l.outOfOrder[ch], next)
				l.channelInOrder[ch] = next + 1
			}
		default:
			l.outOfOrder[ch][pkt.OrderIndex] = pkt.Payload
			return nil // out of order, buffered for later
		}
	case pkt.Reliability.IsSequenced():
		ch := pkt.OrderChannel
		if l.channelSeqSeen[ch] && pkt.OrderIndex <= l.channelLastSeq[ch] {
			return nil // superseded by a later sequenced packet, drop
		}
		l.channelLastSeq[ch] = pkt.OrderIndex
		l.channelSeqSeen[ch] = true
		payloads = append(payloads, pkt.Payload)
	default:
		payloads = append(payloads, pkt.Payload)
	}

	var events []Event
	for _, payload := range payloads {
		events = append(events, l.dispatch(payload, now)...)
	}
	return events
}

// dispatch intercepts internal protocol messages (ping/pong, handshake,
// disconnection) by their leading opcode byte, delivering everything else
// to the application unchanged (spec §6 on_user_packet).
func (l *Layer) dispatch(payload []byte, now time.Time) []Event {
	if len(payload) == 0 {
		return nil
	}
	id := protocol.MessageIdentifier(payload[0])
	switch id {
	case protocol.IDConnectedPing:
		return l.handlePing(payload, now)
	case protocol.IDConnectedPong:
		l.handlePong(payload, now)
		return nil
	case protocol.IDConnectionRequest:
		return l.handleConnectionRequest(payload)
	case protocol.IDConnectionRequestAccepted:
		return l.handleConnectionRequestAccepted()
	case protocol.IDConnectionRequestRefused:
		l.state = StateDisconnected
		return []Event{{Kind: EventDisconnected, Reason: ReasonRefused}}
	case protocol.IDDisconnectionNotification:
		l.state = StateDisconnected
		return []Event{{Kind: EventDisconnected, Reason: ReasonRemoteDisconnect}}
	default:
		// Not one of the transport's own messages: an application payload.
		return []Event{{Kind: EventUserPacket, Payload: payload}}
	}
}

func (l *Layer) handlePing(payload []byte, now time.Time) []Event {
	bs := bitstream.FromBytes(payload)
	bs.ReadU8() // opcode
	originalTime, err := bs.ReadU32()
	if err != nil {
		return nil
	}
	reply := bitstream.New()
	reply.WriteU8(byte(protocol.IDConnectedPong))
	reply.WriteU32(originalTime)
	reply.WriteU32(uint32(now.UnixMilli()))
	_ = l.Send(reply.Bytes(), protocol.Reliable, 0)
	return nil
}

func (l *Layer) handlePong(payload []byte, now time.Time) {
	bs := bitstream.FromBytes(payload)
	bs.ReadU8() // opcode
	originalTime, err := bs.ReadU32()
	if err != nil {
		return
	}
	if !l.pingOutstanding || originalTime != l.pingSentValue {
		return
	}
	l.pingOutstanding = false
	l.updateRTT(now.Sub(l.pingSentAt))
}

func (l *Layer) handleConnectionRequest(payload []byte) []Event {
	if l.role != RoleServer || l.state != StateUnverifiedConnected {
		return nil
	}
	bs := bitstream.FromBytes(payload)
	bs.ReadU8() // opcode
	password, err := bs.ReadASCIIString()
	if err != nil {
		return nil
	}
	if password != l.password {
		refusal := bitstream.New()
		refusal.WriteU8(byte(protocol.IDConnectionRequestRefused))
		_ = l.Send(refusal.Bytes(), protocol.Reliable, 0)
		l.closing = true
		l.closeReason = ReasonRefused
		return nil
	}

	l.state = StateConnected
	accepted := bitstream.New()
	accepted.WriteU8(byte(protocol.IDConnectionRequestAccepted))
	accepted.WriteU64(l.GUID)
	accepted.WriteASCIIString(l.peerAddr)
	_ = l.Send(accepted.Bytes(), protocol.Reliable, 0)

	if l.connectedEventSent {
		return nil
	}
	l.connectedEventSent = true
	return []Event{{Kind: EventConnected}}
}

func (l *Layer) handleConnectionRequestAccepted() []Event {
	l.state = StateConnected
	if l.connectedEventSent {
		return nil
	}
	l.connectedEventSent = true
	return []Event{{Kind: EventConnected}}
}
