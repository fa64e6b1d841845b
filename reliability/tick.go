package reliability

import (
	"time"

	"github.com/samp-server-go/raknet/bitstream"
	"github.com/samp-server-go/raknet/protocol"
)

// TickResult is what Tick hands back to the owning Transport: datagrams to
// put on the wire, and events to surface to the application.
type TickResult struct {
	Datagrams   [][]byte
	Events      []Event
	Retransmits int
	AcksSent    int
}

// Tick advances retransmission, keepalive, and timeout timers, then builds
// at most one ACK datagram and one coalesced data datagram for this peer
// (spec §4.4). The caller is expected to invoke Tick on a regular interval
// for every live peer.
func (l *Layer) Tick(now time.Time) TickResult {
	l.lastTickNow = now
	var res TickResult

	if l.state == StateDisconnected {
		return res
	}

	if now.Sub(l.lastReceive) >= l.idleTimeout {
		res.Events = append(res.Events, l.disconnect(ReasonTimeout))
		return res
	}

	res.Retransmits = l.runResends(now)
	if l.state == StateDisconnected {
		res.Events = append(res.Events, Event{Kind: EventDisconnected, Reason: ReasonTimeout})
		return res
	}

	l.maybeSendPing(now)

	if ack, acked := l.buildACKDatagram(); ack != nil {
		res.Datagrams = append(res.Datagrams, ack)
		res.AcksSent = acked
	}
	if data := l.buildDataDatagram(); data != nil {
		res.Datagrams = append(res.Datagrams, data)
	}

	if l.closing && len(l.outbox) == 0 && len(l.resendQ) == 0 {
		l.state = StateDisconnected
		res.Events = append(res.Events, Event{Kind: EventDisconnected, Reason: l.closeReason})
	}

	return res
}

// runResends re-emits any resend-queue entry whose RTO has elapsed,
// unchanged and under the same message number (spec §4.4 "Retransmission").
// A peer that exceeds MaxResends unacknowledged attempts on any entry is
// considered lost.
func (l *Layer) runResends(now time.Time) int {
	count := 0
	for _, entry := range l.resendQ {
		if entry.nextResend.After(now) {
			continue
		}
		entry.resendCount++
		if entry.resendCount > MaxResends {
			l.state = StateDisconnected
			return count
		}
		entry.nextResend = now.Add(l.rto())
		l.outbox = append(l.outbox, entry.packet)
		count++
	}
	return count
}

// maybeSendPing sends a keepalive InternalPing if no outbound traffic has
// happened for PingInterval (spec §4.6).
func (l *Layer) maybeSendPing(now time.Time) {
	if l.pingOutstanding {
		return
	}
	if now.Sub(l.lastOutbound) < l.pingInterval {
		return
	}
	local := uint32(now.UnixMilli())
	bs := bitstream.New()
	bs.WriteU8(byte(protocol.IDConnectedPing))
	bs.WriteU32(local)

	l.pingOutstanding = true
	l.pingSentAt = now
	l.pingSentValue = local
	_ = l.Send(bs.Bytes(), protocol.Reliable, 0)
}

// buildACKDatagram flushes the pending-ACK set as a run-length encoded
// datagram (spec §3, §4.5), returning the datagram and how many distinct
// message numbers it acknowledges, or (nil, 0) if nothing is pending.
func (l *Layer) buildACKDatagram() ([]byte, int) {
	if len(l.ackPending) == 0 {
		return nil, 0
	}
	nums := make([]uint32, 0, len(l.ackPending))
	for n := range l.ackPending {
		nums = append(nums, n)
	}
	l.ackPending = make(map[uint32]struct{})

	bs := bitstream.New()
	bs.WriteBool(true) // is ACK packet
	encodeACKRanges(bs, nums)
	return bs.Bytes(), len(nums)
}

// buildDataDatagram coalesces as many pending encapsulated packets as fit
// under the MTU into one datagram (spec §4.4: "at most one datagram per
// address per tick"). Anything left over stays in the outbox for the next
// tick.
func (l *Layer) buildDataDatagram() []byte {
	if len(l.outbox) == 0 {
		return nil
	}

	bs := bitstream.New()
	bs.WriteBool(false) // not an ACK packet
	bs.WriteBool(false) // no remote system time stamped

	sent := 0
	for sent < len(l.outbox) && sent < maxCoalesced {
		checkpoint := bs.BitLength()
		encodeEncapsulatedPacket(bs, l.outbox[sent])
		if bs.ByteLength() > protocol.MaxMTU {
			bs.Truncate(checkpoint)
			break
		}
		sent++
	}
	if sent == 0 {
		// A single packet alone exceeds the MTU; this should already be
		// impossible because Send rejects oversize payloads, but guard
		// against an unbounded retry loop by dropping it.
		l.outbox = l.outbox[1:]
		return nil
	}

	l.outbox = l.outbox[sent:]
	l.lastOutbound = l.lastTickNow
	return bs.Bytes()
}

// disconnect transitions the peer to DISCONNECTED and reports why.
func (l *Layer) disconnect(reason DisconnectReason) Event {
	l.state = StateDisconnected
	return Event{Kind: EventDisconnected, Reason: reason}
}

// Close queues a reliable DisconnectionNotification and marks the peer for
// removal once it has been flushed (spec §4.6: "explicit close(address)").
func (l *Layer) Close(now time.Time) {
	if l.closing || l.state == StateDisconnected {
		return
	}
	l.closing = true
	l.closeReason = ReasonClosed
	_ = l.Send([]byte{byte(protocol.IDDisconnectionNotification)}, protocol.Reliable, 0)
}
