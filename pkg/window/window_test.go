package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/window"
)

func TestSumAggregateFoldAndMerge(t *testing.T) {
	agg := window.Sum()
	acc := agg.Zero()
	acc = agg.Fold(acc, 5)
	acc = agg.Fold(acc, 7)
	require.Equal(t, uint64(12), acc)
	require.Equal(t, uint64(20), agg.Merge(acc, 8))
}

func TestCountAggregateFoldIgnoresValueMergeSums(t *testing.T) {
	agg := window.Count()
	acc := agg.Zero()
	acc = agg.Fold(acc, 999) // value ignored, counts the tuple
	acc = agg.Fold(acc, 1)
	require.Equal(t, uint64(2), acc)

	// Two workers each counted a partial of 2; merging sums the partials.
	require.Equal(t, uint64(4), agg.Merge(acc, 2))
}

func TestMinMaxAggregates(t *testing.T) {
	min := window.Min()
	acc := min.Zero()
	acc = min.Fold(acc, 5)
	acc = min.Fold(acc, 2)
	require.Equal(t, uint64(2), acc)
	require.Equal(t, uint64(2), min.Merge(acc, 9))

	max := window.Max()
	acc = max.Zero()
	acc = max.Fold(acc, 5)
	acc = max.Fold(acc, 2)
	require.Equal(t, uint64(5), acc)
	require.Equal(t, uint64(9), max.Merge(acc, 9))
}

func TestTumblingDefinitionCompletesEverySlice(t *testing.T) {
	def := window.NewTumbling(10*time.Second, 0)
	r, ok := def.CompletesAt(slicestore.Index(3))
	require.True(t, ok)
	require.Equal(t, slicestore.Index(3), r.Start)
	require.Equal(t, slicestore.Index(3), r.End)
}

func TestSlidingDefinitionCompletesEverySlideSpanningWindow(t *testing.T) {
	// 30s window, 10s slide, 10s slices: 3 slices per window, 1 per slide.
	def := window.NewSliding(30*time.Second, 10*time.Second, 10*time.Second, 0)

	_, ok := def.CompletesAt(slicestore.Index(0))
	require.False(t, ok) // not enough slices yet

	_, ok = def.CompletesAt(slicestore.Index(1))
	require.False(t, ok)

	r, ok := def.CompletesAt(slicestore.Index(2))
	require.True(t, ok)
	require.Equal(t, slicestore.Index(0), r.Start)
	require.Equal(t, slicestore.Index(2), r.End)

	r, ok = def.CompletesAt(slicestore.Index(3))
	require.True(t, ok)
	require.Equal(t, slicestore.Index(1), r.Start)
	require.Equal(t, slicestore.Index(3), r.End)
}

func TestLocalAggregatesFoldsByKeyAndPartition(t *testing.T) {
	local := window.NewLocalAggregates(window.Sum(), time.Second, 4)
	local.Add(int64(100*time.Millisecond), 1, 10)
	local.Add(int64(200*time.Millisecond), 1, 5)
	local.Add(int64(300*time.Millisecond), 2, 1)

	require.Equal(t, 1, local.Len())
	before := local.SlicesBefore(int64(2 * time.Second))
	require.Len(t, before, 1)
}

func TestLocalAggregatesDropsTupleForAlreadyDrainedSlice(t *testing.T) {
	local := window.NewLocalAggregates(window.Sum(), time.Second, 1)
	local.Add(int64(500*time.Millisecond), 1, 10)
	local.DrainUpTo(int64(1500 * time.Millisecond)) // advances nextIndex past slice 0

	require.Equal(t, 0, local.Len(), "slice 0 was drained and removed")
	local.Add(int64(200*time.Millisecond), 1, 999) // late: belongs to drained slice 0
	require.Equal(t, 0, local.Len(), "a late tuple must not resurrect a drained slice")
}

func TestMergedStoreConsumeDropsSliceOnceAllWindowsRead(t *testing.T) {
	ms := window.NewMergedStore(1, 2) // two window ranges will read this slice
	ms.Put(0, slicestore.Index(5), map[uint64]uint64{1: 10})

	r := window.Range{Start: slicestore.Index(5), End: slicestore.Index(5)}
	out := ms.Consume(0, r, window.Sum())
	require.Equal(t, uint64(10), out[1])

	// Second read should still find the slice (pending count was 2).
	out = ms.Consume(0, r, window.Sum())
	require.Equal(t, uint64(10), out[1])

	// Third read: the slice was already dropped after the second read.
	out = ms.Consume(0, r, window.Sum())
	require.Empty(t, out)
}
