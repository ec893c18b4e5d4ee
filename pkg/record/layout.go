// Package record describes the fixed-width field layout a compiled
// pipeline-stage kernel would normally generate (spec.md §1 puts
// code generation out of scope; this is the minimal stand-in that
// lets the Build/Probe stages read a tuple's key, value, and
// event-time fields without per-tuple allocation).
package record

import "encoding/binary"

// Layout describes a fixed-width record's byte offsets within a tuple
// buffer's payload. All three fields are little-endian uint64s, which
// covers the u64 key/value/ts schema used throughout spec.md §8's
// worked examples; wider or narrower user schemas are out of scope for
// the core (they belong to the out-of-scope code generator).
type Layout struct {
	// Size is the fixed per-tuple width in bytes (schema_size).
	Size int
	KeyOffset   int
	ValueOffset int
	TSOffset    int
}

// DefaultLayout is the (key u64, value u64, ts u64) layout used by
// every worked example in spec.md §8.
var DefaultLayout = Layout{Size: 24, KeyOffset: 0, ValueOffset: 8, TSOffset: 16}

// Tuple is a decoded (key, value, ts) record.
type Tuple struct {
	Key   uint64
	Value uint64
	TS    int64
}

// Count returns how many fixed-width tuples payload holds under l.
func (l Layout) Count(payload []byte) int {
	if l.Size == 0 {
		return 0
	}
	return len(payload) / l.Size
}

// At decodes the i-th tuple from payload.
func (l Layout) At(payload []byte, i int) Tuple {
	base := i * l.Size
	return Tuple{
		Key:   binary.LittleEndian.Uint64(payload[base+l.KeyOffset : base+l.KeyOffset+8]),
		Value: binary.LittleEndian.Uint64(payload[base+l.ValueOffset : base+l.ValueOffset+8]),
		TS:    int64(binary.LittleEndian.Uint64(payload[base+l.TSOffset : base+l.TSOffset+8])),
	}
}

// Put encodes a tuple at index i into payload, growing it if needed by
// the caller beforehand (the payload is owned by a buffer acquired
// from a pool, not allocated here).
func (l Layout) Put(payload []byte, i int, t Tuple) {
	base := i * l.Size
	binary.LittleEndian.PutUint64(payload[base+l.KeyOffset:base+l.KeyOffset+8], t.Key)
	binary.LittleEndian.PutUint64(payload[base+l.ValueOffset:base+l.ValueOffset+8], t.Value)
	binary.LittleEndian.PutUint64(payload[base+l.TSOffset:base+l.TSOffset+8], uint64(t.TS))
}

// Each decodes every tuple in payload under l, calling fn for each.
func (l Layout) Each(payload []byte, count int, fn func(Tuple)) {
	for i := 0; i < count; i++ {
		fn(l.At(payload, i))
	}
}
