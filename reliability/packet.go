package reliability

import (
	"github.com/samp-server-go/raknet/bitstream"
	"github.com/samp-server-go/raknet/protocol"
)

// encapsulatedPacket is one reliability-framed unit inside a datagram;
// several may coalesce into one outgoing UDP datagram (spec GLOSSARY).
type encapsulatedPacket struct {
	Reliability  protocol.Reliability
	OrderChannel uint8
	OrderIndex   uint32
	MessageNumber uint32
	Payload      []byte
}

// encodeEncapsulatedPacket appends pkt's wire framing to bs, per spec §3:
// reliability (3 bits); if sequenced/ordered, channel (5 bits) + order
// index (32 bits, byte-aligned); if reliable, message number (32 bits,
// byte-aligned); payload bit-length (16 bits, byte-aligned); payload bytes.
func encodeEncapsulatedPacket(bs *bitstream.BitStream, pkt encapsulatedPacket) {
	bs.WriteBits(uint64(pkt.Reliability), 3)

	if pkt.Reliability.IsSequenced() || pkt.Reliability.IsOrdered() {
		bs.WriteBits(uint64(pkt.OrderChannel), 5)
		bs.AlignWrite()
		bs.WriteBits(uint64(pkt.OrderIndex), 32)
	}

	if pkt.Reliability.IsReliable() {
		bs.AlignWrite()
		bs.WriteBits(uint64(pkt.MessageNumber), 32)
	}

	bs.AlignWrite()
	bs.WriteBits(uint64(len(pkt.Payload)*8), 16)
	bs.AlignWrite()
	bs.WriteBytes(pkt.Payload)
}

// decodeEncapsulatedPacket reads one encapsulated packet from bs, mirroring
// encodeEncapsulatedPacket's alignment exactly.
func decodeEncapsulatedPacket(bs *bitstream.BitStream) (encapsulatedPacket, error) {
	var pkt encapsulatedPacket

	rel, err := bs.ReadBits(3)
	if err != nil {
		return pkt, err
	}
	pkt.Reliability = protocol.Reliability(rel)

	if pkt.Reliability.IsSequenced() || pkt.Reliability.IsOrdered() {
		ch, err := bs.ReadBits(5)
		if err != nil {
			return pkt, err
		}
		pkt.OrderChannel = uint8(ch)
		bs.AlignRead()
		idx, err := bs.ReadBits(32)
		if err != nil {
			return pkt, err
		}
		pkt.OrderIndex = uint32(idx)
	}

	if pkt.Reliability.IsReliable() {
		bs.AlignRead()
		num, err := bs.ReadBits(32)
		if err != nil {
			return pkt, err
		}
		pkt.MessageNumber = uint32(num)
	}

	bs.AlignRead()
	bitLen, err := bs.ReadBits(16)
	if err != nil {
		return pkt, err
	}
	byteLen := int((bitLen + 7) / 8)
	bs.AlignRead()
	payload, err := bs.ReadBytes(byteLen)
	if err != nil {
		return pkt, err
	}
	pkt.Payload = payload
	return pkt, nil
}
