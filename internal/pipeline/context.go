package pipeline

import (
	"go.uber.org/zap"

	"github.com/nebulastream/nebula-core/internal/obs"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

// Context is the pipeline execution context from spec.md §4.7: it
// bridges a stage to its worker, exposing buffer allocation,
// downstream dispatch, and worker count.
type Context struct {
	Pool        *buffer.Pool
	Dispatcher  Dispatcher
	WorkerCount int
	Log         *zap.Logger
	Metrics     *obs.Metrics
	stageID     StageID
	downstreams []StageID
}

// NewContext builds the execution context for stage within a query
// whose worker pool has workerCount threads.
func NewContext(stage Stage, pool *buffer.Pool, dispatcher Dispatcher, workerCount int, log *zap.Logger, metrics *obs.Metrics) *Context {
	if log == nil {
		log = obs.NewNopLogger()
	}
	return &Context{
		Pool:        pool,
		Dispatcher:  dispatcher,
		WorkerCount: workerCount,
		Log:         log,
		Metrics:     metrics,
		stageID:     stage.ID(),
		downstreams: stage.Downstreams(),
	}
}

// Dispatch enqueues buf as a task for every one of this stage's
// downstream stages (fan-out). This is the normal path for derived
// tasks (PartitionMergeTask, WindowAggregateTask, JoinProbeTask).
func (c *Context) Dispatch(buf *buffer.Buffer) error {
	for _, ds := range c.downstreams {
		buf.Retain()
		if err := c.Dispatcher.Dispatch(Task{Stage: ds, Input: buf}); err != nil {
			buf.Release()
			return err
		}
	}
	buf.Release() // drop Execute's original reference
	return nil
}

// DispatchTo enqueues buf as a task for a specific downstream stage,
// for stages that fan out to more than one logically distinct
// follow-on kernel (e.g. a join's build stage dispatching a probe task
// only once both sides have sealed).
func (c *Context) DispatchTo(target StageID, buf *buffer.Buffer) error {
	return c.Dispatcher.Dispatch(Task{Stage: target, Input: buf})
}

// Emit short-circuits buf directly to this stage's (sole) downstream
// stage's input, preferring the calling worker's own queue for data
// locality, per spec.md §4.7's ctx.emit.
func (c *Context) Emit(buf *buffer.Buffer, w *WorkerContext) error {
	if len(c.downstreams) == 0 {
		buf.Release()
		return nil
	}
	target := c.downstreams[0]
	return c.Dispatcher.EmitLocal(w.ID, Task{Stage: target, Input: buf})
}
