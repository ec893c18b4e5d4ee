package pipeline

import "github.com/nebulastream/nebula-core/pkg/buffer"

// Task is a (stage, input buffer) pair, the unit of work the worker
// pool schedules, per spec.md §4.7.
type Task struct {
	Stage StageID
	Input *buffer.Buffer
}

// Dispatcher enqueues tasks for downstream execution. The task queue
// package implements this; pipeline depends only on the interface so
// stages never need to know about worker pool internals.
type Dispatcher interface {
	// Dispatch enqueues t for normal (possibly work-stolen) execution.
	Dispatch(t Task) error
	// EmitLocal enqueues t preferentially on the calling worker's own
	// queue, the short-circuit path from spec.md §4.7's ctx.emit.
	EmitLocal(workerID int, t Task) error
}
