package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/pkg/buffer"
)

func TestPoolAcquireReleaseRecycles(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1})

	b1, err := pool.Acquire()
	require.NoError(t, err)
	require.NotNil(t, b1)

	b1.Release()

	b2, err := pool.Acquire()
	require.NoError(t, err)
	require.NotNil(t, b2)
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1, AcquireWaitBudget: 0})
	_, err := pool.Acquire()
	require.NoError(t, err)

	pool2 := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1, AcquireWaitBudget: 1})
	_, err = pool2.Acquire()
	require.NoError(t, err)
	_, err = pool2.Acquire()
	require.Error(t, err)
}

func TestBufferRetainReleaseRefcounting(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1})
	b, err := pool.Acquire()
	require.NoError(t, err)

	b.Retain()
	b.Release() // still one outstanding ref
	b.Release() // drops to zero, recycles

	b2, err := pool.Acquire()
	require.NoError(t, err)
	require.NotNil(t, b2)
}

func TestBufferReleaseBeyondAcquirePanics(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1})
	b, err := pool.Acquire()
	require.NoError(t, err)

	b.Release()
	require.Panics(t, func() { b.Release() })
}

func TestAcquireUnpooledRespectsBudget(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1, UnpooledBudget: 32})

	b1, err := pool.AcquireUnpooled(20)
	require.NoError(t, err)
	require.Equal(t, int64(20), pool.Outstanding())

	_, err = pool.AcquireUnpooled(20)
	require.Error(t, err)

	b1.Release()
	require.Equal(t, int64(0), pool.Outstanding())
}

func TestBufferValidateRejectsOversizedTupleCount(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{BufferSize: 16, BufferCount: 1})
	b, err := pool.Acquire()
	require.NoError(t, err)
	defer b.Release()

	b.SchemaSize = 8
	b.TupleCount = 3 // 3*8 = 24 > 16 byte capacity
	require.Error(t, b.Validate())
}
