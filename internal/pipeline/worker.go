package pipeline

import "github.com/nebulastream/nebula-core/pkg/buffer"

// WorkerContext is the per-thread identity and local buffer provider
// handed to every Stage.Execute call, per spec.md §3.
type WorkerContext struct {
	ID   int
	pool *buffer.Pool
}

// NewWorkerContext builds a worker context backed by pool, the same
// lock-free buffer pool every worker in the pipeline shares.
func NewWorkerContext(id int, pool *buffer.Pool) *WorkerContext {
	return &WorkerContext{ID: id, pool: pool}
}

// AcquireBuffer gets a pooled output buffer for this worker to write
// into. Stages should call this rather than going around the worker
// context so that future per-worker pool sharding is a local change.
func (w *WorkerContext) AcquireBuffer() (*buffer.Buffer, error) {
	return w.pool.Acquire()
}
