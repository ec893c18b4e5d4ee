package slicestore

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// GlobalSlice holds, per partition, the contribution lists workers
// hand off at a watermark boundary. A global slice is "complete for
// partition p" once exactly W local partitions have been contributed
// (spec.md §3's Global Slice Store invariant). The W-th contributor's
// atomic fetch-and-add return value is the only synchronization
// needed — no further locking is required once a partition is
// complete, per spec.md §5's shared-resource policy.
type GlobalSlice[V any] struct {
	Index Index
	End   int64

	workerCount int
	// contributions[partition][slot] holds the pages one worker
	// handed off; slot is assigned by fetch-and-add so concurrent
	// contributors never collide.
	contributions [][][]*Page[V]
	nextSlot      []atomix.Uint64
	sealed        []atomix.Bool
}

func newGlobalSlice[V any](index Index, end int64, partitionCount, workerCount int) *GlobalSlice[V] {
	gs := &GlobalSlice[V]{
		Index:         index,
		End:           end,
		workerCount:   workerCount,
		contributions: make([][][]*Page[V], partitionCount),
		nextSlot:      make([]atomix.Uint64, partitionCount),
		sealed:        make([]atomix.Bool, partitionCount),
	}
	for p := range gs.contributions {
		gs.contributions[p] = make([][]*Page[V], workerCount)
	}
	return gs
}

// Contribute hands off pages (typically the result of draining a
// thread-local partition) for partition idx. It returns true exactly
// once per partition: for the W-th contributor, the one that observes
// the contribution list reach full size. Callers use that signal to
// dispatch the downstream merge/probe task exactly once, satisfying
// spec.md §8 invariant 2.
func (gs *GlobalSlice[V]) Contribute(partitionIdx int, pages []*Page[V]) (becameComplete bool) {
	slot := gs.nextSlot[partitionIdx].AddAcqRel(1) - 1
	gs.contributions[partitionIdx][slot] = pages
	return int(slot+1) == gs.workerCount
}

// ContributionCount reports how many workers have contributed to
// partition idx so far (for metrics/diagnostics; not used for control
// flow, which relies solely on Contribute's return value).
func (gs *GlobalSlice[V]) ContributionCount(partitionIdx int) int {
	return int(gs.nextSlot[partitionIdx].LoadAcquire())
}

// Complete reports whether partition idx has received all W
// contributions.
func (gs *GlobalSlice[V]) Complete(partitionIdx int) bool {
	return gs.ContributionCount(partitionIdx) >= gs.workerCount
}

// Contributions returns partition idx's contribution list. Only valid
// to call once Complete(idx) is true; the slice is otherwise still
// being populated by concurrent contributors.
func (gs *GlobalSlice[V]) Contributions(partitionIdx int) [][]*Page[V] {
	return gs.contributions[partitionIdx]
}

// TrySeal marks partition idx as having been merged/processed
// downstream, returning true only for the caller that performs the
// transition from unsealed to sealed. Used to make the partition-merge
// and GC steps idempotent even if a task were ever re-delivered.
func (gs *GlobalSlice[V]) TrySeal(partitionIdx int) bool {
	return gs.sealed[partitionIdx].CompareAndSwapAcqRel(false, true)
}

// GlobalStore is the per-partition ordered map from slice index to
// global slice described in spec.md §3. Creation of a new global slice
// is rare (once per slice, the first time any worker contributes to
// it) so it is guarded by a per-partition mutex; the hot path
// (Contribute above) touches no mutex.
type GlobalStore[V any] struct {
	partitionCount int
	workerCount    int
	mus            []sync.Mutex
	slices         []map[Index]*GlobalSlice[V]
}

// NewGlobalStore creates an empty global store with partitionCount
// shards, each expecting workerCount contributions per slice.
func NewGlobalStore[V any](partitionCount, workerCount int) *GlobalStore[V] {
	gs := &GlobalStore[V]{
		partitionCount: partitionCount,
		workerCount:    workerCount,
		mus:            make([]sync.Mutex, partitionCount),
		slices:         make([]map[Index]*GlobalSlice[V], partitionCount),
	}
	for i := range gs.slices {
		gs.slices[i] = make(map[Index]*GlobalSlice[V])
	}
	return gs
}

// SliceFor returns (creating if necessary) the global slice at index
// for partition partitionIdx.
func (s *GlobalStore[V]) SliceFor(partitionIdx int, index Index, end int64) *GlobalSlice[V] {
	s.mus[partitionIdx].Lock()
	defer s.mus[partitionIdx].Unlock()
	gs, ok := s.slices[partitionIdx][index]
	if !ok {
		gs = newGlobalSlice[V](index, end, s.partitionCount, s.workerCount)
		s.slices[partitionIdx][index] = gs
	}
	return gs
}

// Drop removes a global slice once it has been fully garbage
// collected (spec.md §4.5's per-partition GC watermark advance).
func (s *GlobalStore[V]) Drop(partitionIdx int, index Index) {
	s.mus[partitionIdx].Lock()
	defer s.mus[partitionIdx].Unlock()
	delete(s.slices[partitionIdx], index)
}

// Len reports how many global slices are currently open for
// partitionIdx, for tests and metrics.
func (s *GlobalStore[V]) Len(partitionIdx int) int {
	s.mus[partitionIdx].Lock()
	defer s.mus[partitionIdx].Unlock()
	return len(s.slices[partitionIdx])
}
