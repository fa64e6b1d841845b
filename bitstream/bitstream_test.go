package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBytesRoundTrip(t *testing.T) {
	bs := New()
	bs.WriteU8(0x42)
	bs.WriteU16(1234)
	bs.WriteU32(567890)
	bs.WriteString("Hello World")

	read := FromBytes(bs.Bytes())

	b, err := read.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), b)

	u16, err := read.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), u16)

	u32, err := read.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(567890), u32)

	str, err := read.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Hello World", str)
}

func TestBitPackingMSBFirst(t *testing.T) {
	bs := New()
	bs.WriteBits(0b101, 3)
	assert.Equal(t, byte(0b10100000), bs.Bytes()[0])
}

func TestSubByteFieldsPackTight(t *testing.T) {
	// reliability (3 bits) + channel (5 bits) == exactly one byte, no padding.
	bs := New()
	bs.WriteBits(3, 3)  // reliability
	bs.WriteBits(17, 5) // channel
	require.Equal(t, 1, bs.ByteLength())

	read := FromBytes(bs.Bytes())
	rel, err := read.ReadBits(3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rel)
	ch, err := read.ReadBits(5)
	require.NoError(t, err)
	assert.EqualValues(t, 17, ch)
}

func TestReadPastEndFails(t *testing.T) {
	bs := New()
	bs.WriteU8(1)
	read := FromBytes(bs.Bytes())
	_, err := read.ReadU32()
	assert.ErrorIs(t, err, ErrUnderflow)
}

func TestAlignWritePadsWithZeroBits(t *testing.T) {
	bs := New()
	bs.WriteBool(true)
	bs.AlignWrite()
	bs.WriteU8(0xFF)
	assert.Equal(t, []byte{0b10000000, 0xFF}, bs.Bytes())
}

func TestBoolRoundTrip(t *testing.T) {
	bs := New()
	bs.WriteBool(true)
	bs.WriteBool(false)
	bs.WriteBool(true)
	read := FromBytes(bs.Bytes())
	for _, want := range []bool{true, false, true} {
		got, err := read.ReadBool()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	bs := New()
	bs.WriteFloat32(3.14159)
	bs.WriteFloat64(2.718281828)
	read := FromBytes(bs.Bytes())
	f32, err := read.ReadFloat32()
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f32, 1e-5)
	f64, err := read.ReadFloat64()
	require.NoError(t, err)
	assert.InDelta(t, 2.718281828, f64, 1e-9)
}

func TestASCIIStringRoundTrip(t *testing.T) {
	bs := New()
	bs.WriteASCIIString("legacy-field")
	read := FromBytes(bs.Bytes())
	s, err := read.ReadASCIIString()
	require.NoError(t, err)
	assert.Equal(t, "legacy-field", s)
}

func TestCompressedFloatNotSupported(t *testing.T) {
	bs := New()
	err := bs.WriteCompressedFloat32(1.0)
	assert.ErrorIs(t, err, ErrNotSupported)
	_, err = bs.ReadCompressedFloat32()
	assert.ErrorIs(t, err, ErrNotSupported)
}

// TestRoundTripProperty exercises invariant 1 from the spec's testable
// properties: for any sequence of typed writes, reading back in the same
// order yields identical values.
func TestRoundTripProperty(t *testing.T) {
	type step struct {
		name  string
		write func(*BitStream)
		read  func(*BitStream) (interface{}, error)
		want  interface{}
	}

	seqs := [][]step{
		{
			{"u8", func(b *BitStream) { b.WriteU8(200) }, func(b *BitStream) (interface{}, error) { return b.ReadU8() }, uint8(200)},
			{"i32", func(b *BitStream) { b.WriteI32(-12345) }, func(b *BitStream) (interface{}, error) { return b.ReadI32() }, int32(-12345)},
			{"bool", func(b *BitStream) { b.WriteBool(true) }, func(b *BitStream) (interface{}, error) { return b.ReadBool() }, true},
			{"str", func(b *BitStream) { b.WriteString("ok") }, func(b *BitStream) (interface{}, error) { return b.ReadString() }, "ok"},
		},
		{
			{"bits5", func(b *BitStream) { b.WriteBits(9, 5) }, func(b *BitStream) (interface{}, error) { return b.ReadBits(5) }, uint64(9)},
			{"u64", func(b *BitStream) { b.WriteU64(1 << 40) }, func(b *BitStream) (interface{}, error) { return b.ReadU64() }, uint64(1 << 40)},
			{"f32", func(b *BitStream) { b.WriteFloat32(1.5) }, func(b *BitStream) (interface{}, error) { return b.ReadFloat32() }, float32(1.5)},
		},
	}

	for i, seq := range seqs {
		bs := New()
		for _, st := range seq {
			st.write(bs)
		}
		read := FromBytes(bs.Bytes())
		for _, st := range seq {
			got, err := st.read(read)
			require.NoErrorf(t, err, "seq %d field %s", i, st.name)
			assert.Equalf(t, st.want, got, "seq %d field %s", i, st.name)
		}
	}
}

func TestTruncateDiscardsTentativeWrite(t *testing.T) {
	bs := New()
	bs.WriteU8(1)
	checkpoint := bs.BitLength()
	bs.WriteU32(0xDEADBEEF)
	bs.Truncate(checkpoint)

	assert.Equal(t, checkpoint, bs.BitLength())
	read := FromBytes(bs.Bytes())
	v, err := read.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)
	assert.Zero(t, read.Remaining())
}

func TestTruncateIgnoresForwardRequests(t *testing.T) {
	bs := New()
	bs.WriteU8(7)
	before := bs.BitLength()
	bs.Truncate(before + 100) // beyond current length: no-op
	assert.Equal(t, before, bs.BitLength())
}
