// Package queue implements the task queue and worker pool from
// spec.md §4.7: a fixed-size pool where each worker owns a local
// queue with a shared overflow, workers pull FIFO from their own
// queue and fall back to work-stealing from peers, and a per-query
// stop flag makes cancellation cooperative.
//
// The local and overflow queues are the teacher's lock-free MPMC ring
// (code.hybscloud.com/lfq), reused verbatim for the concern it was
// built for: many goroutines enqueueing and dequeueing without a mutex.
package queue

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
)

// Pool is the fixed-size worker pool executing one query's pipeline
// graph. It implements pipeline.Dispatcher.
type Pool struct {
	workerCount int
	local       []*lfq.MPMC[pipeline.Task]
	overflow    *lfq.MPMC[pipeline.Task]
	nextWorker  atomix.Uint64

	stages   map[pipeline.StageID]pipeline.Stage
	contexts map[pipeline.StageID]*pipeline.Context

	stopFlag atomix.Bool
	hardStop atomix.Bool
	failed   atomix.Bool

	errs chan error
}

// Config bounds the pool's queue capacities.
type Config struct {
	WorkerCount       int
	LocalQueueCap     int
	OverflowQueueCap  int
}

// NewPool builds a worker pool with cfg.WorkerCount workers, each
// owning a local queue of cfg.LocalQueueCap tasks, plus a shared
// overflow queue of cfg.OverflowQueueCap tasks.
func NewPool(cfg Config) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.LocalQueueCap < 2 {
		cfg.LocalQueueCap = 2
	}
	if cfg.OverflowQueueCap < 2 {
		cfg.OverflowQueueCap = 2
	}
	p := &Pool{
		workerCount: cfg.WorkerCount,
		local:       make([]*lfq.MPMC[pipeline.Task], cfg.WorkerCount),
		overflow:    lfq.NewMPMC[pipeline.Task](cfg.OverflowQueueCap),
		stages:      make(map[pipeline.StageID]pipeline.Stage),
		contexts:    make(map[pipeline.StageID]*pipeline.Context),
		errs:        make(chan error, cfg.WorkerCount),
	}
	for i := range p.local {
		p.local[i] = lfq.NewMPMC[pipeline.Task](cfg.LocalQueueCap)
	}
	return p
}

// Register installs a stage and its execution context so the worker
// pool can look them up by StageID when draining a task.
func (p *Pool) Register(stage pipeline.Stage, ctx *pipeline.Context) {
	p.stages[stage.ID()] = stage
	p.contexts[stage.ID()] = ctx
}

// WorkerCount returns the number of workers in the pool.
func (p *Pool) WorkerCount() int { return p.workerCount }

// Dispatch enqueues t for normal execution, round-robining across
// worker-local queues and falling back to the shared overflow queue.
func (p *Pool) Dispatch(t pipeline.Task) error {
	idx := int(p.nextWorker.AddAcqRel(1)-1) % p.workerCount
	if err := p.local[idx].Enqueue(&t); err == nil {
		return nil
	}
	if err := p.overflow.Enqueue(&t); err != nil {
		if iox.IsWouldBlock(err) {
			return nebulaerr.New(nebulaerr.ResourceExhausted, "queue", "overflow queue full")
		}
		return nebulaerr.Wrap(nebulaerr.Internal, "queue", err)
	}
	return nil
}

// EmitLocal enqueues t preferentially on workerID's own queue, falling
// back to Dispatch (round-robin over the worker queues, then overflow)
// if that worker's queue is momentarily full.
func (p *Pool) EmitLocal(workerID int, t pipeline.Task) error {
	if workerID < 0 || workerID >= p.workerCount {
		return p.Dispatch(t)
	}
	if err := p.local[workerID].Enqueue(&t); err == nil {
		return nil
	}
	return p.Dispatch(t)
}

// RequestSoftStop sets the cooperative stop flag: workers keep
// executing whatever is already queued — local, overflow, and stolen —
// to completion, then exit once nextTask finds nothing left anywhere.
func (p *Pool) RequestSoftStop() {
	p.stopFlag.StoreRelease(true)
}

// RequestHardStop sets both flags: in-flight buffers are discarded
// immediately rather than drained.
func (p *Pool) RequestHardStop() {
	p.hardStop.StoreRelease(true)
	p.stopFlag.StoreRelease(true)
}

// Stopping reports whether a stop has been requested.
func (p *Pool) Stopping() bool { return p.stopFlag.LoadAcquire() }

// Failed reports whether any worker observed a StatusError from a
// stage, or could not re-enqueue a task after a BackpressureRetry,
// per spec.md §4.7's failure propagation.
func (p *Pool) Failed() bool { return p.failed.LoadAcquire() }

// Errors returns the channel workers publish stage failures to. The
// lifecycle manager drains it to transition the query to Failed.
func (p *Pool) Errors() <-chan error { return p.errs }

func (p *Pool) markFailed(err error) {
	if p.failed.CompareAndSwapAcqRel(false, true) {
		p.errs <- err
	}
}
