// Package bitmap implements a sparse segmented IPv4 address bitmap: the
// IPv4 address space is split into 256 "/8" segments of 2 MiB (2^24 bits)
// each; only non-zero segments are ever materialized or persisted.
package bitmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
)

// SegmentBytes is the size in bytes of one /8 segment: 2^24 bits.
const SegmentBytes = 1 << 21 // 2 MiB == 2^24 bits

// Bitmap is a sparse mapping from /8 segment id to its 2 MiB byte array.
// Bit i of segment s corresponds to IPv4 address (s<<24)|i.
type Bitmap struct {
	segments map[uint8][]byte
}

// New returns an empty Bitmap.
func New() *Bitmap {
	return &Bitmap{segments: make(map[uint8][]byte)}
}

func segmentAndOffset(ipIndex uint32) (segment uint8, byteOff int, bitOff uint) {
	segment = uint8(ipIndex >> 24)
	within := ipIndex & 0x00FFFFFF
	byteOff = int(within >> 3)
	bitOff = uint(within & 0x7)

	return
}

// Set sets or clears the bit for ipIndex. Clearing a bit in a segment that
// was never allocated is a no-op (the segment stays implicitly all-zero).
func (b *Bitmap) Set(ipIndex uint32, open bool) {
	seg, byteOff, bitOff := segmentAndOffset(ipIndex)

	data, ok := b.segments[seg]
	if !ok {
		if !open {
			return
		}

		data = make([]byte, SegmentBytes)
		b.segments[seg] = data
	}

	if open {
		data[byteOff] |= 1 << bitOff
	} else {
		data[byteOff] &^= 1 << bitOff
	}
}

// Get reports whether ipIndex's bit is set.
func (b *Bitmap) Get(ipIndex uint32) bool {
	seg, byteOff, bitOff := segmentAndOffset(ipIndex)

	data, ok := b.segments[seg]
	if !ok {
		return false
	}

	return data[byteOff]&(1<<bitOff) != 0
}

// CountOnes returns the total population count across all materialized
// segments.
func (b *Bitmap) CountOnes() int {
	total := 0
	for _, data := range b.segments {
		for _, by := range data {
			total += bits.OnesCount8(by)
		}
	}

	return total
}

// Encode serializes the bitmap as a length-prefixed ordered sequence of
// (segment_id uint8, bytes [SegmentBytes]byte) records. The format is
// intentionally a stable, portable wire contract (not a language-specific
// serializer) so a bitmap written by one implementation can be read back by
// another.
func (b *Bitmap) Encode() []byte {
	ids := make([]uint8, 0, len(b.segments))
	for id := range b.segments {
		ids = append(ids, id)
	}

	// Ascending segment id keeps the encoding deterministic.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+len(ids)*(1+SegmentBytes)))

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(ids)))
	buf.Write(countBuf[:])

	for _, id := range ids {
		buf.WriteByte(id)
		buf.Write(b.segments[id])
	}

	return buf.Bytes()
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Bitmap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("bitmap: truncated header (%d bytes)", len(data))
	}

	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	b := New()

	for i := uint32(0); i < count; i++ {
		if len(data) < 1+SegmentBytes {
			return nil, fmt.Errorf("bitmap: truncated segment %d of %d", i, count)
		}

		id := data[0]
		segment := make([]byte, SegmentBytes)
		copy(segment, data[1:1+SegmentBytes])
		b.segments[id] = segment
		data = data[1+SegmentBytes:]
	}

	return b, nil
}
