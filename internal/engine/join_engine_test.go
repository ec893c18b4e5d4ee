package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/config"
	"github.com/nebulastream/nebula-core/internal/engine"
	"github.com/nebulastream/nebula-core/pkg/join"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/source"
)

// TestStreamJoinEndToEnd reproduces spec.md §8 scenario 3: two sides of
// an equijoin, one slice wide, produce exactly one output tuple per
// matching key and none for a key that only appears on one side.
func TestStreamJoinEndToEnd(t *testing.T) {
	def := join.NewDefinition(10*time.Second, 0)
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.PartitionCount = 2
	cfg.PooledBufferCount = 64
	cfg.PooledBufferSize = 4096
	cfg.TaskQueueCapacity = 256
	cfg.WatermarkLogCapacity = 256
	opts := engine.Options{Config: cfg}

	jq, err := engine.BuildJoinQuery(opts, def, record.DefaultLayout)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, jq.Start(ctx))

	left := []record.Tuple{
		{Key: 1, Value: 100, TS: int64(1 * time.Second)},
		{Key: 2, Value: 200, TS: int64(2 * time.Second)},
	}
	right := []record.Tuple{
		{Key: 1, Value: 1, TS: int64(3 * time.Second)},
		{Key: 3, Value: 3, TS: int64(4 * time.Second)},
		{Key: 2, Value: 2, TS: int64(9 * time.Second)},
	}
	leftSrc := source.NewFeedSource(1, jq.LeftPool, record.DefaultLayout, left, nil)
	rightSrc := source.NewFeedSource(2, jq.RightPool, record.DefaultLayout, right, nil)

	require.NoError(t, jq.FeedBoth(ctx, leftSrc, rightSrc))
	require.NoError(t, jq.Wait())

	results := jq.Collector.Tuples()
	byKey := map[uint64]join.OutputTuple{}
	for _, r := range results {
		byKey[r.Key] = r
	}

	require.Len(t, results, 2, "key 3 only appears on the right side and must not produce output")
	require.Equal(t, uint64(100), byKey[1].LeftValue)
	require.Equal(t, uint64(1), byKey[1].RightValue)
	require.Equal(t, uint64(200), byKey[2].LeftValue)
	require.Equal(t, uint64(2), byKey[2].RightValue)
	_, sawKey3 := byKey[3]
	require.False(t, sawKey3)
}
