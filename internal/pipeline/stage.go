// Package pipeline implements the pipeline execution context and
// stage contract from spec.md §4.7 and §6: a stage exposes setup,
// execute, and close; execute may dispatch a downstream task or
// short-circuit-emit to the next stage's input. Stages must never
// block on external I/O.
package pipeline

import (
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

// StageID identifies a pipeline stage within a query's graph.
type StageID uint64

// Status is the kernel ABI's result code from spec.md §6.
type Status int

const (
	// StatusOk marks successful execution.
	StatusOk Status = iota
	// StatusError marks a kernel failure; fails the owning query.
	StatusError
	// StatusBackpressureRetry asks the worker to re-schedule the same
	// (stage, buffer) task rather than treating it as failed.
	StatusBackpressureRetry
)

// Stage is the three-operation kernel contract from spec.md §4.7.
// Implementations must not block on network or disk; the only
// sanctioned suspension point is buffer.Pool.Acquire (spec.md §5).
type Stage interface {
	// ID returns the stage's identity within its query graph.
	ID() StageID
	// Upstreams returns the set of origins this stage consumes from.
	// Multiple origins per stage are fully supported (spec.md §9).
	Upstreams() []buffer.OriginID
	// Downstreams returns the stage ids this stage may dispatch to.
	Downstreams() []StageID
	// Setup prepares stage-local state. Called once before Running.
	Setup(ctx *Context) error
	// Execute processes one input buffer. ctx.Dispatch/ctx.Emit may be
	// called zero or more times before returning.
	Execute(buf *buffer.Buffer, ctx *Context, w *WorkerContext) (Status, error)
	// Close releases stage-local state. Called at most once, on stop
	// or failure; may observe partial state on failure (best-effort).
	Close(ctx *Context) error
}

// BaseStage provides the bookkeeping every concrete stage needs
// (identity, upstream/downstream sets) so kernels only implement
// Setup/Execute/Close, mirroring how the teacher's queue types share a
// handful of fields behind small, focused structs.
type BaseStage struct {
	StageIDValue    StageID
	UpstreamOrigins []buffer.OriginID
	DownstreamIDs   []StageID
}

func (b *BaseStage) ID() StageID                        { return b.StageIDValue }
func (b *BaseStage) Upstreams() []buffer.OriginID        { return b.UpstreamOrigins }
func (b *BaseStage) Downstreams() []StageID               { return b.DownstreamIDs }
