package window

import (
	"math"
	"sort"
	"time"

	"github.com/nebulastream/nebula-core/internal/slicestore"
)

// localSlice is one open slice inside a worker's pre-aggregation ring:
// a per-partition key -> partial accumulator map.
type localSlice struct {
	index      slicestore.Index
	end        int64
	partitions []map[uint64]uint64
}

func newLocalSlice(index slicestore.Index, end int64, partitionCount int) *localSlice {
	ls := &localSlice{index: index, end: end, partitions: make([]map[uint64]uint64, partitionCount)}
	for i := range ls.partitions {
		ls.partitions[i] = make(map[uint64]uint64)
	}
	return ls
}

// drainPartition moves partition p's accumulator map into a page of
// (key, partial) entries for handoff to the global slice store,
// leaving the partition empty — the same move-not-copy transfer
// slicestore.Partition.Drain uses for join state (internal/slicestore
// is page-oriented for raw joined records; window pre-aggregation
// needs a merging put, so it keeps its own map here and only borrows
// slicestore.Page as the handoff format both engines share).
func (ls *localSlice) drainPartition(p int) *slicestore.Page[uint64] {
	m := ls.partitions[p]
	page := slicestore.NewPage[uint64](len(m))
	for k, v := range m {
		page.Append(k, v)
	}
	ls.partitions[p] = make(map[uint64]uint64)
	return page
}

// LocalAggregates is the thread-local pre-aggregation store from
// spec.md §4.3: one worker merges tuples into per-(slice, partition,
// key) accumulators with no synchronization at all, using the
// window's Aggregate.Fold, deferring cross-worker merge to the global
// slice store at the watermark boundary.
type LocalAggregates struct {
	agg            Aggregate
	sliceSize      time.Duration
	partitionCount int
	slices         map[slicestore.Index]*localSlice
	lastWatermark  int64
	nextIndex      slicestore.Index
}

// NewLocalAggregates creates an empty per-worker aggregation ring.
func NewLocalAggregates(agg Aggregate, sliceSize time.Duration, partitionCount int) *LocalAggregates {
	return &LocalAggregates{
		agg:            agg,
		sliceSize:      sliceSize,
		partitionCount: partitionCount,
		slices:         make(map[slicestore.Index]*localSlice),
		lastWatermark:  math.MinInt64,
	}
}

// LastWatermark returns the most recent watermark this worker has
// advanced past.
func (s *LocalAggregates) LastWatermark() int64 { return s.lastWatermark }

// SetLastWatermark records wm as the most recently advanced-to watermark.
func (s *LocalAggregates) SetLastWatermark(wm int64) { s.lastWatermark = wm }

// Add folds one (key, value) tuple observed at ts into its owning
// slice and partition's accumulator. A tuple whose slice has already
// been drained (index below nextIndex) is dropped per spec.md §4.3
// step 1: folding it would reopen a below-cursor localSlice that
// DrainUpTo never revisits, since its cursor has already passed that
// index — an unbounded leak, one stranded map per late tuple.
func (s *LocalAggregates) Add(ts int64, key, value uint64) {
	idx := slicestore.IndexForTimestamp(ts, s.sliceSize)
	if idx < s.nextIndex {
		return
	}
	ls, ok := s.slices[idx]
	if !ok {
		_, end := idx.Bounds(s.sliceSize)
		ls = newLocalSlice(idx, end, s.partitionCount)
		s.slices[idx] = ls
	}
	p := slicestore.PartitionOf(key, s.partitionCount)
	m := ls.partitions[p]
	acc, ok := m[key]
	if !ok {
		acc = s.agg.Zero()
	}
	m[key] = s.agg.Fold(acc, value)
}

// SlicesBefore returns every open local slice whose end timestamp is
// strictly less than threshold, ordered by increasing index.
func (s *LocalAggregates) SlicesBefore(threshold int64) []*localSlice {
	var out []*localSlice
	for _, ls := range s.slices {
		if ls.end < threshold {
			out = append(out, ls)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// Drop removes a local slice once every partition has been contributed
// to the global store.
func (s *LocalAggregates) Drop(index slicestore.Index) {
	delete(s.slices, index)
}

// infiniteThresholdCutoff distinguishes a real, finite watermark from
// the end-of-stream sentinel (buffer.WatermarkInfinite, math.MaxInt64):
// any threshold past this point cannot be a real event-time watermark.
const infiniteThresholdCutoff = math.MaxInt64 / 2

// DrainUpTo returns, in increasing index order, every slice from the
// last drained index through the last whole slice ending strictly
// before threshold, advancing the internal cursor past them. An index
// this worker folded nothing into is synthesized empty rather than
// skipped: the global slice's per-partition contribution count only
// reaches workerCount once every worker has contributed exactly once,
// so a worker with no local keys for a slice still owes an (empty)
// contribution.
//
// threshold arrives as the end-of-stream sentinel once, at the final
// watermark advance: synthesizing empty slices all the way to infinity
// would never terminate, so in that case draining stops at the last
// slice this worker ever opened instead of threshold itself.
func (s *LocalAggregates) DrainUpTo(threshold int64) []*localSlice {
	limit := threshold
	if limit > infiniteThresholdCutoff {
		maxEnd := int64(-1)
		for idx := range s.slices {
			_, end := idx.Bounds(s.sliceSize)
			if end > maxEnd {
				maxEnd = end
			}
		}
		if maxEnd < 0 {
			return nil
		}
		limit = maxEnd + 1
	}

	var out []*localSlice
	for {
		_, end := s.nextIndex.Bounds(s.sliceSize)
		if end >= limit {
			break
		}
		ls, ok := s.slices[s.nextIndex]
		if ok {
			delete(s.slices, s.nextIndex)
		} else {
			ls = newLocalSlice(s.nextIndex, end, s.partitionCount)
		}
		out = append(out, ls)
		s.nextIndex++
	}
	return out
}

// Len reports the number of currently open local slices.
func (s *LocalAggregates) Len() int { return len(s.slices) }
