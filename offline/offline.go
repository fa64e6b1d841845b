// Package offline implements the OfflineMessageHandler (spec §4.3): the
// handshake recognizer that runs before a peer exists in the reliability
// layer's peer table. Offline messages carry no reliability framing — they
// are raw datagrams prefixed with the fixed 16-byte RakNet magic — so this
// package never touches a BitStream or an encapsulated packet; it only
// recognizes the handful of opcodes that precede connection.
package offline

import (
	"bytes"

	"github.com/samp-server-go/raknet/protocol"
)

// Decision is what the caller (Transport) should do after an offline
// datagram was recognized or rejected.
type Decision int

const (
	// Drop means the datagram was not a recognized offline message and
	// must be silently discarded (spec §4.3: "malformed offline messages
	// are silently dropped").
	Drop Decision = iota
	// CreatePeerAndReply means a server received OpenConnectionRequest: a
	// peer should be created in UNVERIFIED_CONNECTED and OpenConnectionReply
	// sent back to the source address.
	CreatePeerAndReply
	// ClientConnected means a client received OpenConnectionReply: its
	// local peer record transitions straight to CONNECTED (spec §4.3).
	ClientConnected
)

// IsOfflineMessage reports whether data begins with the fixed 16-byte
// RakNet offline magic.
func IsOfflineMessage(data []byte) bool {
	if len(data) < len(protocol.OfflineMessageID) {
		return false
	}
	return bytes.Equal(data[:len(protocol.OfflineMessageID)], protocol.OfflineMessageID[:])
}

// opcode extracts the one-byte opcode following the offline magic, and
// whatever payload follows it. ok is false if data is too short to carry
// an opcode at all.
func opcode(data []byte) (id protocol.MessageIdentifier, rest []byte, ok bool) {
	n := len(protocol.OfflineMessageID)
	if len(data) < n+1 {
		return 0, nil, false
	}
	return protocol.MessageIdentifier(data[n]), data[n+1:], true
}

// HandleServer recognizes offline datagrams arriving at a server socket,
// i.e. a source address with no existing peer.
func HandleServer(data []byte) Decision {
	if !IsOfflineMessage(data) {
		return Drop
	}
	id, _, ok := opcode(data)
	if !ok {
		return Drop
	}
	if id == protocol.IDOpenConnectionRequest {
		return CreatePeerAndReply
	}
	return Drop
}

// HandleClient recognizes offline datagrams arriving at a client socket
// while awaiting the server's handshake reply.
func HandleClient(data []byte) Decision {
	if !IsOfflineMessage(data) {
		return Drop
	}
	id, _, ok := opcode(data)
	if !ok {
		return Drop
	}
	if id == protocol.IDOpenConnectionReply {
		return ClientConnected
	}
	return Drop
}

// EncodeOpenConnectionRequest builds the raw datagram a client sends to
// initiate the handshake.
func EncodeOpenConnectionRequest() []byte {
	return encode(protocol.IDOpenConnectionRequest)
}

// EncodeOpenConnectionReply builds the raw datagram a server sends back in
// response to OpenConnectionRequest.
func EncodeOpenConnectionReply() []byte {
	return encode(protocol.IDOpenConnectionReply)
}

func encode(id protocol.MessageIdentifier) []byte {
	out := make([]byte, 0, len(protocol.OfflineMessageID)+1)
	out = append(out, protocol.OfflineMessageID[:]...)
	out = append(out, byte(id))
	return out
}
