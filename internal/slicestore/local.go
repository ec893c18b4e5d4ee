package slicestore

import (
	"math"
	"sort"
	"time"
)

// infiniteThresholdCutoff distinguishes a real, finite watermark from
// the end-of-stream sentinel (buffer.WatermarkInfinite, math.MaxInt64):
// any threshold past this point cannot be a real event-time watermark.
const infiniteThresholdCutoff = math.MaxInt64 / 2

// LocalSlice is one open slice inside a thread-local store: a
// per-partition array plus the half-open time range it covers.
type LocalSlice[V any] struct {
	Index      Index
	End        int64 // exclusive upper bound, in the same unit as event-time
	Partitions []*Partition[V]
}

func newLocalSlice[V any](index Index, end int64, partitionCount, pageSize int) *LocalSlice[V] {
	ls := &LocalSlice[V]{Index: index, End: end, Partitions: make([]*Partition[V], partitionCount)}
	for i := range ls.Partitions {
		ls.Partitions[i] = NewPartition[V](pageSize)
	}
	return ls
}

// ThreadLocalStore is the ring of open slices owned exclusively by one
// worker thread, per spec.md §3/§4.3. No synchronization is needed:
// only the owning worker ever calls these methods.
type ThreadLocalStore[V any] struct {
	sliceSize          int64
	partitionCount     int
	pageSize           int
	slices             map[Index]*LocalSlice[V]
	lastLocalWatermark int64
	nextIndex          Index
}

// NewThreadLocalStore creates an empty per-worker slice store.
func NewThreadLocalStore[V any](sliceSize int64, partitionCount, pageSize int) *ThreadLocalStore[V] {
	return &ThreadLocalStore[V]{
		sliceSize:          sliceSize,
		partitionCount:     partitionCount,
		pageSize:           pageSize,
		slices:             make(map[Index]*LocalSlice[V]),
		lastLocalWatermark: math.MinInt64,
	}
}

// LastWatermark returns lastLocalWatermark, the most recent watermark
// this worker has advanced to.
func (s *ThreadLocalStore[V]) LastWatermark() int64 { return s.lastLocalWatermark }

// SetLastWatermark updates lastLocalWatermark, called once per build
// step after a successful advance.
func (s *ThreadLocalStore[V]) SetLastWatermark(wm int64) { s.lastLocalWatermark = wm }

// SliceFor returns the open local slice for ts, creating it (and its P
// empty partitions) if this is the first tuple to land in it. Returns
// nil for a tuple whose slice has already been drained (idx below
// nextIndex): reopening it would create a below-cursor slice DrainUpTo
// never revisits, since its cursor already passed that index.
func (s *ThreadLocalStore[V]) SliceFor(ts int64) *LocalSlice[V] {
	idx := IndexForTimestamp(ts, time.Duration(s.sliceSize))
	if idx < s.nextIndex {
		return nil
	}
	if ls, ok := s.slices[idx]; ok {
		return ls
	}
	_, end := idx.Bounds(time.Duration(s.sliceSize))
	ls := newLocalSlice[V](idx, end, s.partitionCount, s.pageSize)
	s.slices[idx] = ls
	return ls
}

// SlicesBefore returns every open local slice whose End is strictly
// less than watermark, ordered by increasing index (the head of the
// ring has the smallest index per spec.md §3's invariant).
func (s *ThreadLocalStore[V]) SlicesBefore(watermark int64) []*LocalSlice[V] {
	var out []*LocalSlice[V]
	for _, ls := range s.slices {
		if ls.End < watermark {
			out = append(out, ls)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Drop removes a local slice from the ring. Called after all of its
// partitions have been contributed to the global store.
func (s *ThreadLocalStore[V]) Drop(index Index) {
	delete(s.slices, index)
}

// DrainUpTo returns, in increasing index order, every slice from the
// last drained index through the last whole slice ending strictly
// before threshold, advancing the internal cursor past them. An index
// this worker never received a record for is synthesized empty rather
// than skipped: the global store's per-partition contribution count
// only reaches workerCount once every worker has contributed exactly
// once for a slice, so a worker with no local data for it still owes
// an (empty) contribution.
//
// threshold arrives as the end-of-stream sentinel once, at the final
// watermark advance: synthesizing empty slices all the way to infinity
// would never terminate, so in that case draining stops at the last
// slice this worker ever opened instead of threshold itself.
func (s *ThreadLocalStore[V]) DrainUpTo(threshold int64) []*LocalSlice[V] {
	limit := threshold
	if limit > infiniteThresholdCutoff {
		maxEnd := int64(-1)
		for idx := range s.slices {
			_, end := idx.Bounds(time.Duration(s.sliceSize))
			if end > maxEnd {
				maxEnd = end
			}
		}
		if maxEnd < 0 {
			return nil
		}
		limit = maxEnd + 1
	}

	var out []*LocalSlice[V]
	for {
		_, end := s.nextIndex.Bounds(time.Duration(s.sliceSize))
		if end >= limit {
			break
		}
		ls, ok := s.slices[s.nextIndex]
		if ok {
			delete(s.slices, s.nextIndex)
		} else {
			ls = newLocalSlice[V](s.nextIndex, end, s.partitionCount, s.pageSize)
		}
		out = append(out, ls)
		s.nextIndex++
	}
	return out
}

// Len reports the number of currently open local slices, for tests
// and metrics.
func (s *ThreadLocalStore[V]) Len() int { return len(s.slices) }
