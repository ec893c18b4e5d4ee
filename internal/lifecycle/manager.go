package lifecycle

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/queue"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

// AlreadyStopping is returned by SoftStop/HardStop when the query was
// not Running; per spec.md §4.8 this is a typed signal, not a failure.
var AlreadyStopping = errors.New("lifecycle: query already stopping or stopped")

// Graph is a compiled pipeline graph ready for registration: every
// stage plus the worker pool and buffer pool it runs on.
type Graph struct {
	Stages      []pipeline.Stage
	Pool        *buffer.Pool
	Watermark   *watermark.Processor
	WorkerCount int
	QueueCfg    queue.Config
}

// Manager registers, starts, and stops queries, tracking per-stage
// status per spec.md §4.8.
type Manager struct {
	log *zap.Logger

	mu      sync.Mutex
	queries map[string]*entry
}

type entry struct {
	query     *Query
	graph     *Graph
	qpool     *queue.Pool
	ctxs      map[pipeline.StageID]*pipeline.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager builds a lifecycle manager. log may be nil.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, queries: make(map[string]*entry)}
}

// Register builds a Query in the Registered state from a compiled
// graph, wiring every stage into a fresh worker pool.
func (m *Manager) Register(g *Graph) (*Query, error) {
	ids := make([]pipeline.StageID, 0, len(g.Stages))
	for _, s := range g.Stages {
		ids = append(ids, s.ID())
	}
	q := NewQuery(ids)

	qpool := queue.NewPool(g.QueueCfg)
	ctxs := make(map[pipeline.StageID]*pipeline.Context, len(g.Stages))
	for _, s := range g.Stages {
		ctx := pipeline.NewContext(s, g.Pool, qpool, g.WorkerCount, m.log, nil)
		ctxs[s.ID()] = ctx
		qpool.Register(s, ctx)
	}

	m.mu.Lock()
	m.queries[q.ID.String()] = &entry{query: q, graph: g, qpool: qpool, ctxs: ctxs}
	m.mu.Unlock()

	m.log.Info("query registered", zap.String("query_id", q.ID.String()), zap.Int("stages", len(g.Stages)))
	return q, nil
}

// Start runs every stage's Setup, transitions Registered -> Scheduled
// -> Running, and starts the worker pool. Any Setup failure fails the
// query instead of starting it.
func (m *Manager) Start(ctx context.Context, q *Query) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	if !q.compareAndSetStatus(Registered, Scheduled) {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "query not in Registered state")
	}
	for _, s := range e.graph.Stages {
		if err := s.Setup(e.ctxs[s.ID()]); err != nil {
			wrapped := nebulaerr.Wrap(nebulaerr.KernelFailure, "lifecycle.setup", err)
			q.fail(wrapped)
			return wrapped
		}
		q.setStageStatus(s.ID(), StageScheduled)
	}
	if !q.compareAndSetStatus(Scheduled, Running) {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "query not in Scheduled state")
	}
	for _, s := range e.graph.Stages {
		q.setStageStatus(s.ID(), StageRunning)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		err := e.qpool.Run(runCtx, e.graph.Pool)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.fail(nebulaerr.Wrap(nebulaerr.Internal, "lifecycle.run", err))
		}
	}()
	go m.watchFailures(q, e)

	m.log.Info("query running", zap.String("query_id", q.ID.String()))
	return nil
}

func (m *Manager) watchFailures(q *Query, e *entry) {
	select {
	case err, ok := <-e.qpool.Errors():
		if !ok {
			return
		}
		m.log.Warn("stage failure observed", zap.String("query_id", q.ID.String()), zap.Error(err))
		q.fail(err)
		m.closeAll(q, e)
		if e.cancel != nil {
			e.cancel()
		}
	case <-e.done:
	}
}

// SoftStop drains: sources should stop producing, the watermark
// advances to +infinity upstream of this call, and pipelines finish
// in-flight buffers before transitioning to Stopped.
func (m *Manager) SoftStop(q *Query) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	if !q.compareAndSetStatus(Running, SoftStopRequested) {
		return AlreadyStopping
	}
	e.qpool.RequestSoftStop()
	go m.finishStop(q, e)
	return nil
}

// HardStop tells every worker to cease immediately; in-flight buffers
// are discarded rather than drained.
func (m *Manager) HardStop(q *Query) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	if !q.compareAndSetStatus(Running, HardStopRequested) {
		if q.Status() == SoftStopRequested {
			q.setStatus(HardStopRequested)
		} else {
			return AlreadyStopping
		}
	}
	e.qpool.RequestHardStop()
	go m.finishStop(q, e)
	return nil
}

func (m *Manager) finishStop(q *Query, e *entry) {
	<-e.done
	m.closeAll(q, e)
	if q.Status() != Failed {
		q.setStatus(Stopped)
		for _, s := range e.graph.Stages {
			q.setStageStatus(s.ID(), StageStopped)
		}
	}
	m.log.Info("query stopped", zap.String("query_id", q.ID.String()), zap.String("status", q.Status().String()))
}

// closeAll calls Close on every stage, best-effort, aggregating every
// error with multierr rather than stopping at the first one — a
// failed query may leave some stages in a state where Close still
// needs to run on the rest.
func (m *Manager) closeAll(q *Query, e *entry) {
	e.closeOnce.Do(func() {
		var errs error
		for _, s := range e.graph.Stages {
			if err := s.Close(e.ctxs[s.ID()]); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			m.log.Warn("errors closing stages", zap.String("query_id", q.ID.String()), zap.Error(errs))
		}
	})
}

func (m *Manager) lookup(q *Query) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[q.ID.String()]
}

// Submit hands buf to stage as an external input, e.g. from a Source
// driver running outside the worker pool. It is equivalent to a stage
// dispatching to one of its downstreams, except the caller is not
// itself a worker.
func (m *Manager) Submit(q *Query, stage pipeline.StageID, buf *buffer.Buffer) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	return e.qpool.Dispatch(pipeline.Task{Stage: stage, Input: buf})
}

// SubmitToWorker hands buf to stage, preferring workerID's own queue
// rather than round-robining across the pool. A source driver uses
// this to guarantee every worker's build stage is invoked at least
// once after the stream's real end-of-stream buffer has been
// dispatched, so a worker whose own thread-local state was never
// touched by the watermark-advancing call still gets a chance to drain
// it (see pkg/window and pkg/join's BuildStage.Execute).
func (m *Manager) SubmitToWorker(q *Query, stage pipeline.StageID, workerID int, buf *buffer.Buffer) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	return e.qpool.EmitLocal(workerID, pipeline.Task{Stage: stage, Input: buf})
}

// WorkerCount returns how many workers q's pool was built with.
func (m *Manager) WorkerCount(q *Query) int {
	e := m.lookup(q)
	if e == nil {
		return 0
	}
	return e.qpool.WorkerCount()
}

// Wait blocks until q's worker pool has fully stopped (after a
// SoftStop/HardStop finishes draining, or after a failure), returning
// the query's failure cause, if any.
func (m *Manager) Wait(q *Query) error {
	e := m.lookup(q)
	if e == nil {
		return nebulaerr.New(nebulaerr.Internal, "lifecycle", "unknown query")
	}
	<-e.done
	return q.FailureCause()
}
