// Package slicestore implements the thread-local and global slice
// stores from spec.md §3/§4.3: partitioned, keyed state indexed by
// slice (a half-open time range). Thread-local stores absorb
// per-tuple updates without contention; the global store merges
// partitions once every worker has crossed a slice boundary.
//
// The package is generic over the per-entry value type V so that the
// windowed aggregation engine (pkg/window, V = partial aggregate) and
// the streaming hash join (pkg/join, V = raw joined-side record) share
// the same slice/partition/page mechanics described in spec.md §3.
package slicestore

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// Index identifies a half-open slice [Index*SliceSize, (Index+1)*SliceSize).
type Index uint64

// IndexForTimestamp computes the slice index owning ts under sliceSize,
// per spec.md §3: sliceIndex = ts / sliceSize.
func IndexForTimestamp(ts int64, sliceSize time.Duration) Index {
	if sliceSize <= 0 {
		panic("slicestore: sliceSize must be positive")
	}
	return Index(ts / int64(sliceSize))
}

// Bounds returns the half-open [start, end) time range a slice index
// covers, in the same unit as the timestamps passed to IndexForTimestamp.
func (i Index) Bounds(sliceSize time.Duration) (start, end int64) {
	s := int64(sliceSize)
	start = int64(i) * s
	end = start + s
	return
}

// PartitionOf computes hash(key) mod P, the partition assignment rule
// from spec.md §3's Partitioned Hash Map.
func PartitionOf(key uint64, partitionCount int) int {
	if partitionCount <= 0 {
		panic("slicestore: partitionCount must be positive")
	}
	var buf [8]byte
	buf[0] = byte(key)
	buf[1] = byte(key >> 8)
	buf[2] = byte(key >> 16)
	buf[3] = byte(key >> 24)
	buf[4] = byte(key >> 32)
	buf[5] = byte(key >> 40)
	buf[6] = byte(key >> 48)
	buf[7] = byte(key >> 56)
	h := xxhash.Sum64(buf[:])
	return int(h % uint64(partitionCount))
}

// Entry is a fixed-width {key, value} pair, the unit of content inside
// a Page.
type Entry[V any] struct {
	Key   uint64
	Value V
}

// Page holds a fixed-width run of entries. Pages within a partition
// are append-only while the owning slice is open (spec.md §3
// Partitioned Hash Map invariant). A Page is moved between stores by
// reslicing a pointer, never copied.
type Page[V any] struct {
	Entries []Entry[V]
}

// NewPage allocates a page with capacity hint entries pre-reserved.
func NewPage[V any](capacityHint int) *Page[V] {
	return &Page[V]{Entries: make([]Entry[V], 0, capacityHint)}
}

// Append adds an entry to the page.
func (p *Page[V]) Append(key uint64, value V) {
	p.Entries = append(p.Entries, Entry[V]{Key: key, Value: value})
}
