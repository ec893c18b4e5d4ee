package lifecycle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nebulastream/nebula-core/internal/lifecycle"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/queue"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

// countingStage is the simplest possible kernel: it releases every
// buffer it's handed and counts how many it saw.
type countingStage struct {
	pipeline.BaseStage
	executed atomic.Int64
}

func (s *countingStage) Setup(ctx *pipeline.Context) error { return nil }

func (s *countingStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	s.executed.Add(1)
	return pipeline.StatusOk, nil
}

func (s *countingStage) Close(ctx *pipeline.Context) error { return nil }

// TestSoftStopDrainsEveryQueuedBuffer is spec.md §8 scenario 6: a
// graceful stop must finish every buffer already queued rather than
// abandon it, distinguishing SoftStop from HardStop.
func TestSoftStopDrainsEveryQueuedBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	const workers = 4
	const bufferCount = 200

	pool := buffer.NewPool(buffer.Config{BufferSize: 64, BufferCount: bufferCount})
	stage := &countingStage{BaseStage: pipeline.BaseStage{StageIDValue: 0}}

	mgr := lifecycle.NewManager(nil)
	q, err := mgr.Register(&lifecycle.Graph{
		Stages:      []pipeline.Stage{stage},
		Pool:        pool,
		Watermark:   watermark.NewProcessor(16),
		WorkerCount: workers,
		QueueCfg: queue.Config{
			WorkerCount:      workers,
			LocalQueueCap:    bufferCount,
			OverflowQueueCap: bufferCount,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Start(ctx, q))

	for i := 0; i < bufferCount; i++ {
		buf, err := pool.Acquire()
		require.NoError(t, err)
		buf.Emit(uint64(i), 1, int64(i), 1)
		require.NoError(t, mgr.Submit(q, stage.ID(), buf))
	}

	// SoftStop fires immediately after every buffer has been submitted,
	// racing the workers that are still draining their queues — a
	// correct soft stop must still execute all of them before Wait
	// returns.
	require.NoError(t, mgr.SoftStop(q))
	require.NoError(t, mgr.Wait(q))

	require.Equal(t, int64(bufferCount), stage.executed.Load(),
		"graceful stop must finish every buffer already queued, not discard it")
	require.Equal(t, lifecycle.Stopped, q.Status())
}

// TestHardStopNeedNotDrainEverything exercises the abandon-in-flight
// path: HardStop is allowed to leave buffers unexecuted, so this only
// asserts the query still reaches Stopped without hanging.
func TestHardStopNeedNotDrainEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	const workers = 2
	const bufferCount = 50

	pool := buffer.NewPool(buffer.Config{BufferSize: 64, BufferCount: bufferCount})
	stage := &countingStage{BaseStage: pipeline.BaseStage{StageIDValue: 0}}

	mgr := lifecycle.NewManager(nil)
	q, err := mgr.Register(&lifecycle.Graph{
		Stages:      []pipeline.Stage{stage},
		Pool:        pool,
		Watermark:   watermark.NewProcessor(16),
		WorkerCount: workers,
		QueueCfg: queue.Config{
			WorkerCount:      workers,
			LocalQueueCap:    bufferCount,
			OverflowQueueCap: bufferCount,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Start(ctx, q))

	for i := 0; i < bufferCount; i++ {
		buf, err := pool.Acquire()
		require.NoError(t, err)
		buf.Emit(uint64(i), 1, int64(i), 1)
		require.NoError(t, mgr.Submit(q, stage.ID(), buf))
	}

	require.NoError(t, mgr.HardStop(q))
	require.NoError(t, mgr.Wait(q))
	require.Equal(t, lifecycle.Stopped, q.Status())
}
