package reliability

import (
	"sort"

	"github.com/samp-server-go/raknet/bitstream"
)

// encodeACKRanges writes a sorted, deduplicated set of 32-bit message
// numbers as the run-length list described in spec §4.5: contiguous runs
// collapse into one (is_range, min, max) entry, isolated numbers into one
// (is_range=false, min) entry. Entries are packed back-to-back with no
// padding between them and no count prefix — the caller bounds the list by
// the datagram's own length.
func encodeACKRanges(bs *bitstream.BitStream, nums []uint32) {
	sorted := append([]uint32(nil), nums...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	i := 0
	for i < len(sorted) {
		start := sorted[i]
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		isRange := j > i
		bs.WriteBool(isRange)
		bs.WriteBits(uint64(start), 32)
		if isRange {
			bs.WriteBits(uint64(sorted[j]), 32)
		}
		i = j + 1
	}
}

// decodeACKRanges reads back the list written by encodeACKRanges, expanding
// every range into its individual message numbers. It reads until fewer
// than 33 bits remain (not enough to form another entry), silently
// ignoring any trailing partial bits per the error-recovery policy in
// spec §7.
func decodeACKRanges(bs *bitstream.BitStream) []uint32 {
	var out []uint32
	for bs.Remaining() >= 33 {
		isRange, err := bs.ReadBool()
		if err != nil {
			break
		}
		min, err := bs.ReadBits(32)
		if err != nil {
			break
		}
		max := min
		if isRange {
			if bs.Remaining() < 32 {
				break
			}
			m, err := bs.ReadBits(32)
			if err != nil {
				break
			}
			max = m
		}
		if max < min {
			continue
		}
		for v := min; v <= max; v++ {
			out = append(out, uint32(v))
		}
	}
	return out
}
