package slicestore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/slicestore"
)

func TestIndexForTimestampAndBounds(t *testing.T) {
	size := 10 * time.Second
	idx := slicestore.IndexForTimestamp(25*int64(time.Second), size)
	require.Equal(t, slicestore.Index(2), idx)

	start, end := idx.Bounds(size)
	require.Equal(t, int64(20*time.Second), start)
	require.Equal(t, int64(30*time.Second), end)
}

func TestPartitionOfIsDeterministicAndBounded(t *testing.T) {
	const partitions = 8
	p1 := slicestore.PartitionOf(42, partitions)
	p2 := slicestore.PartitionOf(42, partitions)
	require.Equal(t, p1, p2)
	require.GreaterOrEqual(t, p1, 0)
	require.Less(t, p1, partitions)
}

func TestThreadLocalStoreSliceForCreatesOncePerIndex(t *testing.T) {
	store := slicestore.NewThreadLocalStore[uint64](int64(time.Second), 4, 16)
	ls1 := store.SliceFor(int64(500 * time.Millisecond))
	ls2 := store.SliceFor(int64(900 * time.Millisecond))
	require.Same(t, ls1, ls2)
	require.Equal(t, 1, store.Len())

	ls3 := store.SliceFor(int64(1500 * time.Millisecond))
	require.NotSame(t, ls1, ls3)
	require.Equal(t, 2, store.Len())
}

func TestThreadLocalStoreSliceForReturnsNilForDrainedIndex(t *testing.T) {
	store := slicestore.NewThreadLocalStore[uint64](int64(time.Second), 1, 16)
	store.SliceFor(int64(500 * time.Millisecond))
	store.DrainUpTo(int64(1500 * time.Millisecond)) // advances nextIndex past slice 0
	require.Equal(t, 0, store.Len())

	late := store.SliceFor(int64(200 * time.Millisecond))
	require.Nil(t, late, "a late timestamp must not resurrect a drained slice")
	require.Equal(t, 0, store.Len())
}

func TestThreadLocalStoreSlicesBeforeOrdersByIndex(t *testing.T) {
	store := slicestore.NewThreadLocalStore[uint64](int64(time.Second), 1, 16)
	store.SliceFor(int64(2500 * time.Millisecond))
	store.SliceFor(int64(500 * time.Millisecond))
	store.SliceFor(int64(1500 * time.Millisecond))

	before := store.SlicesBefore(int64(4 * time.Second))
	require.Len(t, before, 3)
	require.Equal(t, slicestore.Index(0), before[0].Index)
	require.Equal(t, slicestore.Index(1), before[1].Index)
	require.Equal(t, slicestore.Index(2), before[2].Index)
}

func TestGlobalSliceContributeCompletesExactlyOnceAtW(t *testing.T) {
	const workers = 8
	store := slicestore.NewGlobalStore[uint64](1, workers)
	gs := store.SliceFor(0, 0, int64(time.Second))

	var becameCompleteCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page := slicestore.NewPage[uint64](1)
			page.Append(1, 1)
			if gs.Contribute(0, []*slicestore.Page[uint64]{page}) {
				mu.Lock()
				becameCompleteCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), becameCompleteCount)
	require.True(t, gs.Complete(0))
	require.Equal(t, workers, gs.ContributionCount(0))
}

func TestGlobalSliceTrySealIsIdempotent(t *testing.T) {
	store := slicestore.NewGlobalStore[uint64](1, 1)
	gs := store.SliceFor(0, 0, int64(time.Second))

	require.True(t, gs.TrySeal(0))
	require.False(t, gs.TrySeal(0))
}

func TestPartitionPutGrowsNewPageAtCapacity(t *testing.T) {
	p := slicestore.NewPartition[uint64](2)
	p.Put(1, 10, 2)
	p.Put(2, 20, 2)
	require.Len(t, p.Pages, 1)

	p.Put(3, 30, 2)
	require.Len(t, p.Pages, 2)

	var keys []uint64
	p.Each(func(key uint64, value uint64) { keys = append(keys, key) })
	require.Equal(t, []uint64{1, 2, 3}, keys)
}

func TestPartitionDrainEmptiesPartition(t *testing.T) {
	p := slicestore.NewPartition[uint64](4)
	p.Put(1, 10, 4)
	require.False(t, p.Empty())

	pages := p.Drain()
	require.Len(t, pages, 1)
	require.True(t, p.Empty())
}
