package window

import (
	"sync"

	"github.com/nebulastream/nebula-core/internal/slicestore"
)

// MergedStore holds, per partition, the fully cross-worker-merged
// accumulator map for every slice the merge stage has produced but at
// least one window trigger still needs to read. A tumbling window's
// slice is dropped by the single trigger read that follows its merge
// (windowsPerSlice == 1); a sliding window's slice is read by several overlapping
// window ranges before it can be dropped, so Put seeds a pending-read
// counter and Consume decrements it, dropping the slice once no
// further window range can reference it.
type MergedStore struct {
	partitionCount  int
	windowsPerSlice int64
	mus             []sync.Mutex
	slices          []map[slicestore.Index]map[uint64]uint64
	pending         []map[slicestore.Index]int64
}

// NewMergedStore creates an empty merged-slice cache with
// partitionCount shards. windowsPerSlice is the number of window
// completions that will read any given slice before it can be dropped
// (Definition.SlicesPerWindow / Definition.SlicesPerSlide).
func NewMergedStore(partitionCount int, windowsPerSlice int64) *MergedStore {
	if windowsPerSlice < 1 {
		windowsPerSlice = 1
	}
	ms := &MergedStore{
		partitionCount:  partitionCount,
		windowsPerSlice: windowsPerSlice,
		mus:             make([]sync.Mutex, partitionCount),
		slices:          make([]map[slicestore.Index]map[uint64]uint64, partitionCount),
		pending:         make([]map[slicestore.Index]int64, partitionCount),
	}
	for i := range ms.slices {
		ms.slices[i] = make(map[slicestore.Index]map[uint64]uint64)
		ms.pending[i] = make(map[slicestore.Index]int64)
	}
	return ms
}

// Put installs the merged accumulator map for a (partition, slice)
// pair, seeding its pending-read counter.
func (ms *MergedStore) Put(partition int, idx slicestore.Index, values map[uint64]uint64) {
	ms.mus[partition].Lock()
	ms.slices[partition][idx] = values
	ms.pending[partition][idx] = ms.windowsPerSlice
	ms.mus[partition].Unlock()
}

// Consume folds every slice in [r.Start, r.End] for partition into a
// single result map using agg.Merge, for one window's final output,
// then decrements each slice's pending-read counter and drops any
// slice that has now been read by every window range that covers it.
// A slice absent from the store (e.g. it never received a contribution
// because no key fell into it) contributes nothing and is skipped.
func (ms *MergedStore) Consume(partition int, r Range, agg Aggregate) map[uint64]uint64 {
	ms.mus[partition].Lock()
	defer ms.mus[partition].Unlock()

	out := make(map[uint64]uint64)
	for idx := r.Start; idx <= r.End; idx++ {
		if values, ok := ms.slices[partition][idx]; ok {
			for k, v := range values {
				if acc, ok := out[k]; ok {
					out[k] = agg.Merge(acc, v)
				} else {
					out[k] = v
				}
			}
		}
		if left, ok := ms.pending[partition][idx]; ok {
			left--
			if left <= 0 {
				delete(ms.pending[partition], idx)
				delete(ms.slices[partition], idx)
			} else {
				ms.pending[partition][idx] = left
			}
		}
	}
	return out
}
