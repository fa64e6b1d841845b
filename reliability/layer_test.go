package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samp-server-go/raknet/protocol"
)

func newPair(t *testing.T, password string) (server, client *Layer) {
	t.Helper()
	now := time.Now()
	server = New(RoleServer, password, now)
	client = New(RoleClient, "", now)
	server.SetPeerAddress("127.0.0.1:9000")
	client.SetPeerAddress("127.0.0.1:1001")
	return server, client
}

// deliver ferries every datagram one Tick produces from src to dst and
// returns dst's events, simulating an instantaneous, lossless link.
func deliver(t *testing.T, src, dst *Layer, now time.Time) []Event {
	t.Helper()
	res := src.Tick(now)
	var events []Event
	for _, dg := range res.Datagrams {
		events = append(events, dst.HandleDatagram(dg, now)...)
	}
	events = append(events, res.Events...)
	return events
}

func TestHandshakeAcceptsWithMatchingPassword(t *testing.T) {
	server, client := newPair(t, "")
	client.MarkConnected() // spec §4.3: client reaches CONNECTED on OpenConnectionReply
	now := time.Now()
	client.SendConnectionRequest("")

	events := deliver(t, client, server, now)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Kind)
	assert.Equal(t, StateConnected, server.State())

	events = deliver(t, server, client, now)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Kind)
	assert.Equal(t, StateConnected, client.State())
}

func TestHandshakeRefusesOnPasswordMismatch(t *testing.T) {
	server, client := newPair(t, "secret")
	client.MarkConnected()
	now := time.Now()
	client.SendConnectionRequest("wrong")

	deliver(t, client, server, now)

	events := deliver(t, server, client, now)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Kind)
	assert.Equal(t, ReasonRefused, events[0].Reason)
}

func TestReliableOrderedDeliveryUnderLoss(t *testing.T) {
	server, client := newPair(t, "")
	client.MarkConnected()
	server.MarkConnected()
	now := time.Now()

	require.NoError(t, server.Send([]byte("A"), protocol.ReliableOrdered, 0))
	require.NoError(t, server.Send([]byte("B"), protocol.ReliableOrdered, 0))
	require.NoError(t, server.Send([]byte("C"), protocol.ReliableOrdered, 0))

	res := server.Tick(now)
	require.Len(t, res.Datagrams, 1)

	// Drop the one coalesced datagram on first transmission (simulating
	// loss), then let RTO-driven resend deliver it.
	now = now.Add(2 * MinRTO)
	res = server.Tick(now)
	require.Len(t, res.Datagrams, 1)

	var received [][]byte
	for _, dg := range res.Datagrams {
		for _, ev := range client.HandleDatagram(dg, now) {
			if ev.Kind == EventUserPacket {
				received = append(received, ev.Payload)
			}
		}
	}
	require.Len(t, received, 3)
	assert.Equal(t, []byte("A"), received[0])
	assert.Equal(t, []byte("B"), received[1])
	assert.Equal(t, []byte("C"), received[2])
}

func TestOrderedOutOfOrderDeliveryBuffersAndDrains(t *testing.T) {
	server, client := newPair(t, "")
	now := time.Now()

	// Build three ordered packets by hand at the reliability layer so we
	// can reorder the *datagrams* and still assert in-order delivery.
	require.NoError(t, server.Send([]byte("1"), protocol.ReliableOrdered, 0))
	res1 := server.Tick(now)
	require.NoError(t, server.Send([]byte("2"), protocol.ReliableOrdered, 0))
	res2 := server.Tick(now)
	require.NoError(t, server.Send([]byte("3"), protocol.ReliableOrdered, 0))
	res3 := server.Tick(now)

	// Deliver out of order: 3, 1, 2.
	var delivered [][]byte
	for _, dg := range res3.Datagrams {
		for _, ev := range client.HandleDatagram(dg, now) {
			if ev.Kind == EventUserPacket {
				delivered = append(delivered, ev.Payload)
			}
		}
	}
	assert.Empty(t, delivered, "index 2 must buffer until 0 and 1 arrive")

	for _, dg := range res1.Datagrams {
		for _, ev := range client.HandleDatagram(dg, now) {
			if ev.Kind == EventUserPacket {
				delivered = append(delivered, ev.Payload)
			}
		}
	}
	for _, dg := range res2.Datagrams {
		for _, ev := range client.HandleDatagram(dg, now) {
			if ev.Kind == EventUserPacket {
				delivered = append(delivered, ev.Payload)
			}
		}
	}

	require.Len(t, delivered, 3)
	assert.Equal(t, []byte("1"), delivered[0])
	assert.Equal(t, []byte("2"), delivered[1])
	assert.Equal(t, []byte("3"), delivered[2])
}

func TestUnreliableReorderDeliversAsReceived(t *testing.T) {
	server, client := newPair(t, "")
	now := time.Now()

	require.NoError(t, server.Send([]byte("X"), protocol.Unreliable, 0))
	resX := server.Tick(now)
	require.NoError(t, server.Send([]byte("Y"), protocol.Unreliable, 0))
	resY := server.Tick(now)
	require.NoError(t, server.Send([]byte("Z"), protocol.Unreliable, 0))
	resZ := server.Tick(now)

	var got [][]byte
	for _, res := range []TickResult{resZ, resX, resY} {
		for _, dg := range res.Datagrams {
			for _, ev := range client.HandleDatagram(dg, now) {
				if ev.Kind == EventUserPacket {
					got = append(got, ev.Payload)
				}
			}
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, [][]byte{[]byte("Z"), []byte("X"), []byte("Y")}, got)
}

func TestDedupDropsReplayedDatagram(t *testing.T) {
	server, client := newPair(t, "")
	now := time.Now()
	require.NoError(t, server.Send([]byte("once"), protocol.Reliable, 0))
	res := server.Tick(now)
	require.Len(t, res.Datagrams, 1)

	var delivered int
	for i := 0; i < 5; i++ {
		for _, ev := range client.HandleDatagram(res.Datagrams[0], now) {
			if ev.Kind == EventUserPacket {
				delivered++
			}
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestOversizePayloadRejected(t *testing.T) {
	server, _ := newPair(t, "")
	err := server.Send(make([]byte, protocol.MaxApplicationPayload+1), protocol.Reliable, 0)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestTimeoutReapsPeerExactlyOnce(t *testing.T) {
	server, _ := newPair(t, "")
	now := time.Now()
	res := server.Tick(now.Add(IdleTimeout))
	require.Len(t, res.Events, 1)
	assert.Equal(t, EventDisconnected, res.Events[0].Kind)
	assert.Equal(t, ReasonTimeout, res.Events[0].Reason)
	assert.Equal(t, StateDisconnected, server.State())

	// A subsequent tick must not fire another disconnect event.
	res = server.Tick(now.Add(IdleTimeout + time.Second))
	assert.Empty(t, res.Events)
}

func TestOrderedAndSequencedDoNotShareOutboundIndexOnSameChannel(t *testing.T) {
	server, client := newPair(t, "")
	now := time.Now()

	// Interleave ReliableOrdered and UnreliableSequenced sends on the same
	// channel: nothing in Send's public signature forbids this, and the two
	// classes must not collide on one outbound ordering-index counter or the
	// Ordered side stalls forever waiting for an index the Sequenced side
	// burned but never feeds into channelInOrder.
	require.NoError(t, server.Send([]byte("ord-0"), protocol.ReliableOrdered, 0))
	require.NoError(t, server.Send([]byte("seq-0"), protocol.UnreliableSequenced, 0))
	require.NoError(t, server.Send([]byte("ord-1"), protocol.ReliableOrdered, 0))
	require.NoError(t, server.Send([]byte("seq-1"), protocol.UnreliableSequenced, 0))

	res := server.Tick(now)
	require.Len(t, res.Datagrams, 1)

	var delivered [][]byte
	for _, dg := range res.Datagrams {
		for _, ev := range client.HandleDatagram(dg, now) {
			if ev.Kind == EventUserPacket {
				delivered = append(delivered, ev.Payload)
			}
		}
	}

	require.Len(t, delivered, 4, "both ordered sends must be delivered, not stuck in outOfOrder")
	assert.Contains(t, delivered, []byte("ord-0"))
	assert.Contains(t, delivered, []byte("ord-1"))
	assert.Contains(t, delivered, []byte("seq-0"))
	assert.Contains(t, delivered, []byte("seq-1"))
}

func TestACKRunLengthRoundTrip(t *testing.T) {
	server, client := newPair(t, "")
	now := time.Now()
	require.NoError(t, server.Send([]byte("rtt-probe"), protocol.Reliable, 0))
	res := server.Tick(now)
	require.Len(t, res.Datagrams, 1)
	client.HandleDatagram(res.Datagrams[0], now)

	ackRes := client.Tick(now)
	require.Len(t, ackRes.Datagrams, 1)

	before := len(server.resendQ)
	server.HandleDatagram(ackRes.Datagrams[0], now.Add(10*time.Millisecond))
	assert.Equal(t, before-1, len(server.resendQ))
	assert.Greater(t, server.RTT(), time.Duration(0))
}
