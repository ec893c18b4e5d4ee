package queue

import (
	"context"

	"code.hybscloud.com/iox"
	"golang.org/x/sync/errgroup"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

// Run starts workerCount goroutines that drain tasks until ctx is
// cancelled or a hard/soft stop is requested. Run blocks until every
// worker exits and returns the errgroup's result; worker loops always
// return nil, so stage failures surface through Errors(), not here.
func (p *Pool) Run(ctx context.Context, pool *buffer.Pool) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		workerID := i
		g.Go(func() error {
			return p.workerLoop(gctx, workerID, pool)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID int, pool *buffer.Pool) error {
	wctx := pipeline.NewWorkerContext(workerID, pool)
	backoff := iox.Backoff{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if p.hardStop.LoadAcquire() {
			return nil
		}

		t, ok := p.nextTask(workerID)
		if !ok {
			if p.stopFlag.LoadAcquire() {
				// Soft stop with nothing left queued anywhere: done.
				return nil
			}
			backoff.Wait()
			continue
		}
		backoff.Reset()

		// Soft stop never discards a task once it has been dequeued:
		// draining means finishing everything already queued, then
		// exiting once nextTask finds nothing left anywhere. Abandoning
		// in-flight buffers is what RequestHardStop is for.
		p.execute(t, workerID, wctx)
	}
}

func (p *Pool) execute(t pipeline.Task, workerID int, wctx *pipeline.WorkerContext) {
	stage, ok := p.stages[t.Stage]
	if !ok {
		t.Input.Release()
		return
	}
	ctx := p.contexts[t.Stage]

	status, err := stage.Execute(t.Input, ctx, wctx)
	switch status {
	case pipeline.StatusOk:
		t.Input.Release()
	case pipeline.StatusBackpressureRetry:
		// Re-enqueue the same task; the stage did not consume it.
		if derr := p.EmitLocal(workerID, t); derr != nil {
			p.markFailed(nebulaerr.Wrap(nebulaerr.ResourceExhausted, "queue", derr))
			t.Input.Release()
		}
	case pipeline.StatusError:
		t.Input.Release()
		if err == nil {
			err = nebulaerr.New(nebulaerr.KernelFailure, "queue", "stage returned StatusError with no cause")
		}
		p.markFailed(nebulaerr.Wrap(nebulaerr.KernelFailure, "queue", err))
	}
}

// nextTask pulls the next task per spec.md §4.7's scheduling order:
// own local queue first, then the shared overflow queue, then
// work-stealing from peers.
func (p *Pool) nextTask(workerID int) (pipeline.Task, bool) {
	if t, err := p.local[workerID].Dequeue(); err == nil {
		return t, true
	}
	if t, err := p.overflow.Dequeue(); err == nil {
		return t, true
	}
	for i := 0; i < p.workerCount; i++ {
		if i == workerID {
			continue
		}
		if t, err := p.local[i].Dequeue(); err == nil {
			return t, true
		}
	}
	return pipeline.Task{}, false
}
