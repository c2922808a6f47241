// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package timeseries

import (
	"math"
	"math/bits"
)

// Point is one (timestamp, value) sample. Timestamps are Unix milliseconds
// and must be monotone, though not strictly increasing.
type Point struct {
	TimestampMs int64
	Value       float64
}

// Encoder compresses a point stream:
//
//   - the first point is written verbatim (zig-zag varint timestamp,
//     64 raw value bits);
//   - each subsequent point byte-aligns, writes a zig-zag varint of the
//     timestamp delta-of-delta, one "different?" bit, and — when set — a
//     header of 6-bit leading-zero count plus 6-bit significant-bit count
//     (0 encodes 64) followed by the significant bits of the XOR with the
//     previous value.
type Encoder struct {
	w         bitWriter
	first     bool
	prevTs    int64
	prevDelta int64
	prevBits  uint64
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{first: true}
}

// Add appends one point.
func (e *Encoder) Add(timestampMs int64, value float64) {
	vbits := math.Float64bits(value)

	if e.first {
		e.w.writeZigZag(timestampMs)
		e.w.writeBits(vbits, 64)
		e.prevTs = timestampMs
		e.prevDelta = 0
		e.prevBits = vbits
		e.first = false
		return
	}

	// Timestamp: delta-of-delta as byte-aligned zig-zag varint.
	e.w.alignToByte()
	delta := timestampMs - e.prevTs
	e.w.writeZigZag(delta - e.prevDelta)
	e.prevTs = timestampMs
	e.prevDelta = delta

	// Value: XOR block.
	xor := vbits ^ e.prevBits
	if xor == 0 {
		e.w.writeBit(false)
	} else {
		e.w.writeBit(true)
		leading := bits.LeadingZeros64(xor)
		trailing := bits.TrailingZeros64(xor)
		significant := 64 - leading - trailing

		e.w.writeBits(uint64(leading), 6)
		e.w.writeBits(uint64(significant&63), 6) // 64 encodes as 0
		e.w.writeBits(xor>>uint(trailing), significant)
	}
	e.prevBits = vbits
}

// Finish returns the encoded stream. The encoder is spent afterwards.
func (e *Encoder) Finish() []byte {
	return e.w.finish()
}

// Encode compresses points in one call.
func Encode(points []Point) []byte {
	enc := NewEncoder()
	for _, p := range points {
		enc.Add(p.TimestampMs, p.Value)
	}
	return enc.Finish()
}

// Decoder replays a stream produced by Encoder.
type Decoder struct {
	r         *bitReader
	first     bool
	prevTs    int64
	prevDelta int64
	prevBits  uint64
}

// NewDecoder wraps an encoded stream.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{r: newBitReader(data), first: true}
}

// Next returns the next point; ok is false at end of stream.
func (d *Decoder) Next() (Point, bool) {
	if d.first {
		if d.r.eof() {
			return Point{}, false
		}
		ts := d.r.readZigZag()
		vbits := d.r.readBits(64)
		d.prevTs = ts
		d.prevDelta = 0
		d.prevBits = vbits
		d.first = false
		return Point{TimestampMs: ts, Value: math.Float64frombits(vbits)}, true
	}

	d.r.alignToByte()
	if d.r.eof() {
		return Point{}, false
	}

	dod := d.r.readZigZag()
	delta := d.prevDelta + dod
	ts := d.prevTs + delta
	d.prevDelta = delta
	d.prevTs = ts

	if d.r.eof() {
		return Point{}, false
	}

	vbits := d.prevBits
	if d.r.readBit() {
		leading := int(d.r.readBits(6))
		significant := int(d.r.readBits(6))
		if significant == 0 {
			significant = 64
		}
		payload := d.r.readBits(significant)
		trailing := 64 - leading - significant
		vbits = d.prevBits ^ (payload << uint(trailing))
	}
	d.prevBits = vbits

	return Point{TimestampMs: ts, Value: math.Float64frombits(vbits)}, true
}

// Decode replays the whole stream in one call.
func Decode(data []byte) []Point {
	dec := NewDecoder(data)
	var out []Point
	for {
		p, ok := dec.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}
