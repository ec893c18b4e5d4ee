package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/config"
	"github.com/nebulastream/nebula-core/internal/engine"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/source"
	"github.com/nebulastream/nebula-core/pkg/window"
)

func testConfig() config.Engine {
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.PartitionCount = 2
	cfg.PooledBufferCount = 64
	cfg.PooledBufferSize = 4096
	cfg.TaskQueueCapacity = 256
	cfg.WatermarkLogCapacity = 256
	return cfg
}

// TestTumblingSumEndToEnd reproduces a ten-second tumbling sum window
// over two keys: every tuple lands in slice 0, the watermark crosses
// the slice boundary once the end-of-stream buffer is observed, and
// the collector should see exactly one result tuple per key with the
// summed value.
func TestTumblingSumEndToEnd(t *testing.T) {
	def := window.NewTumbling(10*time.Second, 0)
	opts := engine.Options{Config: testConfig()}
	wq, err := engine.BuildWindowQuery(opts, def, window.Sum(), record.DefaultLayout)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wq.Start(ctx))

	tuples := []record.Tuple{
		{Key: 1, Value: 10, TS: int64(1 * time.Second)},
		{Key: 1, Value: 5, TS: int64(2 * time.Second)},
		{Key: 2, Value: 100, TS: int64(3 * time.Second)},
	}
	src := source.NewFeedSource(1, wq.Pool, record.DefaultLayout, tuples, nil)

	require.NoError(t, wq.Feed(ctx, src))
	require.NoError(t, wq.Wait())

	results := wq.Collector.Tuples()
	totals := map[uint64]uint64{}
	for _, r := range results {
		totals[r.Key] += r.Value
	}
	require.Equal(t, uint64(15), totals[1])
	require.Equal(t, uint64(100), totals[2])
}

// TestLateTupleExcludedFromClosedWindow verifies that a tuple whose
// slice has already been drained never reaches the output. Each buffer
// holds one tuple and a single worker executes them in order, so the
// 25s tuple's buffer moves that worker's watermark past slice 0 before
// the 2s tuple arrives in the next buffer; LocalAggregates.Add then
// drops it instead of folding it into slice 0, and the window sums are
// 10 for [0s,10s) and 1 for [20s,30s).
func TestLateTupleExcludedFromClosedWindow(t *testing.T) {
	def := window.NewTumbling(10*time.Second, 0)
	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.PooledBufferSize = 24 // one DefaultLayout tuple per buffer
	opts := engine.Options{Config: cfg}
	wq, err := engine.BuildWindowQuery(opts, def, window.Sum(), record.DefaultLayout)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wq.Start(ctx))

	tuples := []record.Tuple{
		{Key: 1, Value: 10, TS: int64(1 * time.Second)},
		// Watermark-advancing tuple in slice 2; its buffer drains slice 0.
		{Key: 1, Value: 1, TS: int64(25 * time.Second)},
		// Late arrival for slice 0, in a later buffer than the drain.
		{Key: 1, Value: 999, TS: int64(2 * time.Second)},
	}
	src := source.NewFeedSource(1, wq.Pool, record.DefaultLayout, tuples, nil)

	require.NoError(t, wq.Feed(ctx, src))
	require.NoError(t, wq.Wait())

	results := wq.Collector.Tuples()
	var total uint64
	for _, r := range results {
		require.NotEqual(t, uint64(999), r.Value, "late tuple must not reach a closed window's output")
		total += r.Value
	}
	require.Equal(t, uint64(11), total, "only the 1s and 25s tuples are summed")
}

// stalledSource never produces a tuple; it only emits its end-of-stream
// buffer, and only after delay — standing in for an origin that is slow
// or has nothing to say yet.
type stalledSource struct {
	origin buffer.OriginID
	pool   *buffer.Pool
	layout record.Layout
	delay  time.Duration
}

func (s *stalledSource) Origin() buffer.OriginID { return s.origin }

func (s *stalledSource) Run(ctx context.Context, emit func(*buffer.Buffer) error) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	eos, err := s.pool.Acquire()
	if err != nil {
		return err
	}
	eos.SchemaSize = uint32(s.layout.Size)
	eos.EndOfStream = true
	eos.Emit(0, s.origin, buffer.WatermarkInfinite, 0)
	return emit(eos)
}

// TestWatermarkStallHoldsBackUntilSilentOriginFinishes reproduces
// spec.md §8 scenario 4: with two origins sharing one query, a second
// origin that hasn't emitted anything yet must hold the global
// watermark down regardless of how far the first origin has advanced —
// no window may fire until that origin is heard from, even if only
// via its end-of-stream buffer.
func TestWatermarkStallHoldsBackUntilSilentOriginFinishes(t *testing.T) {
	def := window.NewTumbling(10*time.Second, 0)
	opts := engine.Options{Config: testConfig()}
	wq, err := engine.BuildWindowQuery(opts, def, window.Sum(), record.DefaultLayout)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wq.Start(ctx))

	tuples := []record.Tuple{
		{Key: 1, Value: 1, TS: int64(100 * time.Second)},
	}
	fast := source.NewFeedSource(1, wq.Pool, record.DefaultLayout, tuples, nil)
	slow := &stalledSource{origin: 2, pool: wq.Pool, layout: record.DefaultLayout, delay: 200 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- wq.FeedMany(ctx, []source.Source{fast, slow}) }()

	time.Sleep(60 * time.Millisecond)
	require.Empty(t, wq.Collector.Tuples(),
		"no window may fire while origin 2 hasn't been heard from, even though origin 1 is far ahead")

	require.NoError(t, <-done)
	require.NoError(t, wq.Wait())

	results := wq.Collector.Tuples()
	require.NotEmpty(t, results, "once the silent origin's end-of-stream lands, the watermark must advance and windows fire")
	var total uint64
	for _, r := range results {
		total += r.Value
	}
	require.Equal(t, uint64(1), total)
}

