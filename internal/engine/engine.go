// Package engine assembles the runtime's pieces — buffer pool,
// watermark processor, slice/global stores, pipeline stages, worker
// pool, and lifecycle manager — into a query that can actually run,
// per spec.md §9's "how the components fit together" notes. It is the
// wiring layer; the components themselves live in internal/ and pkg/.
package engine

import (
	"context"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"github.com/nebulastream/nebula-core/internal/config"
	"github.com/nebulastream/nebula-core/internal/lifecycle"
	"github.com/nebulastream/nebula-core/internal/obs"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/queue"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/join"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/sink"
	"github.com/nebulastream/nebula-core/pkg/source"
	"github.com/nebulastream/nebula-core/pkg/window"
)

// Options carries the ambient dependencies every query shares: config,
// a logger, and an optional metrics recorder.
type Options struct {
	Config  config.Engine
	Log     *zap.Logger
	Metrics *obs.Metrics
}

func (o Options) logger() *zap.Logger {
	if o.Log != nil {
		return o.Log
	}
	return obs.NewNopLogger()
}

// Stage ids for a window query's four-stage graph.
const (
	WindowBuildStage pipeline.StageID = iota
	WindowMergeStage
	WindowTriggerStage
	WindowSinkStage
)

// Stage ids for a join query's four-stage graph.
const (
	JoinLeftBuildStage pipeline.StageID = iota
	JoinRightBuildStage
	JoinProbeStage
	JoinSinkStage
)

// WindowQuery bundles the resources a windowed-aggregation query needs
// across its lifetime: the manager and query handle to start/stop/wait
// on it, the buffer pool a source drives tuples through, and the
// collector sink tests read results from.
type WindowQuery struct {
	Manager     *lifecycle.Manager
	Query       *lifecycle.Query
	Pool        *buffer.Pool
	Collector   *sink.CollectorStage
	Watermark   *watermark.Processor
	WorkerCount int
}

// BuildWindowQuery wires a Build -> Merge -> Trigger -> Collector
// pipeline graph implementing one windowed aggregation, per spec.md
// §4.3-§4.5.
func BuildWindowQuery(opts Options, def window.Definition, agg window.Aggregate, layout record.Layout) (*WindowQuery, error) {
	cfg := opts.Config
	pool := buffer.NewPool(buffer.Config{
		BufferSize:  cfg.PooledBufferSize,
		BufferCount: cfg.PooledBufferCount,
	})
	wmProc := watermark.NewProcessor(cfg.WatermarkLogCapacity)
	global := slicestore.NewGlobalStore[uint64](cfg.PartitionCount, cfg.WorkerCount)
	merged := window.NewMergedStore(cfg.PartitionCount, def.SlicesPerWindow()/def.SlicesPerSlide())

	build := &window.BuildStage{
		BaseStage:  pipeline.BaseStage{StageIDValue: WindowBuildStage, DownstreamIDs: []pipeline.StageID{WindowMergeStage}},
		Definition: def,
		Aggregate:  agg,
		Layout:     layout,
		Partitions: cfg.PartitionCount,
		Watermark:  wmProc,
		Global:     global,
		MergeStage: WindowMergeStage,
	}
	mergeStage := &window.MergeStage{
		BaseStage:    pipeline.BaseStage{StageIDValue: WindowMergeStage, DownstreamIDs: []pipeline.StageID{WindowTriggerStage}},
		Definition:   def,
		Aggregate:    agg,
		Global:       global,
		Merged:       merged,
		TriggerStage: WindowTriggerStage,
	}
	trigger := &window.TriggerStage{
		BaseStage:  pipeline.BaseStage{StageIDValue: WindowTriggerStage, DownstreamIDs: []pipeline.StageID{WindowSinkStage}},
		Definition: def,
		Aggregate:  agg,
		Layout:     layout,
		Merged:     merged,
	}
	collector := &sink.CollectorStage{
		BaseStage: pipeline.BaseStage{StageIDValue: WindowSinkStage},
		Layout:    layout,
	}

	g := &lifecycle.Graph{
		Stages:      []pipeline.Stage{build, mergeStage, trigger, collector},
		Pool:        pool,
		Watermark:   wmProc,
		WorkerCount: cfg.WorkerCount,
		QueueCfg: queue.Config{
			WorkerCount:      cfg.WorkerCount,
			LocalQueueCap:    cfg.TaskQueueCapacity,
			OverflowQueueCap: cfg.TaskQueueCapacity,
		},
	}

	mgr := lifecycle.NewManager(opts.logger())
	q, err := mgr.Register(g)
	if err != nil {
		return nil, err
	}
	return &WindowQuery{Manager: mgr, Query: q, Pool: pool, Collector: collector, Watermark: wmProc, WorkerCount: cfg.WorkerCount}, nil
}

// Start runs every stage's Setup and starts the worker pool.
func (wq *WindowQuery) Start(ctx context.Context) error {
	return wq.Manager.Start(ctx, wq.Query)
}

// Feed drains a single src into the build stage. It is FeedMany for the
// common single-source case.
func (wq *WindowQuery) Feed(ctx context.Context, src source.Source) error {
	return wq.FeedMany(ctx, []source.Source{src})
}

// FeedMany drains every source concurrently, submitting each buffer it
// produces as input to the build stage. Multiple origins share one
// global watermark (the min across all of them, per spec.md §3), so a
// worker can only safely stop revisiting its local slices once EVERY
// origin has committed to infinity — an origin that never emits (or is
// simply slow) holds the global watermark down regardless of how far
// the others have advanced, exactly the "watermark stall" case. FeedMany
// waits for all origins to commit before broadcasting any flush, so the
// flush always carries the final, fully-settled global watermark rather
// than risk a later origin advancing it again after a worker stopped
// checking.
func (wq *WindowQuery) FeedMany(ctx context.Context, srcs []source.Source) error {
	for _, src := range srcs {
		wq.Watermark.RegisterOrigin(src.Origin())
	}

	results := make([]feedResult, len(srcs))
	chs := make([]chan feedResult, len(srcs))
	for i, src := range srcs {
		chs[i] = make(chan feedResult, 1)
		go func(i int, src source.Source) {
			chs[i] <- feedWindowSource(ctx, wq, src)
		}(i, src)
	}
	for i := range chs {
		results[i] = <-chs[i]
		if results[i].err != nil {
			return results[i].err
		}
	}
	for _, r := range results {
		if r.seen {
			if err := awaitOriginDrained(ctx, wq.Watermark, r.origin); err != nil {
				return err
			}
		}
	}
	for _, r := range results {
		if r.seen {
			if err := wq.broadcastFlush(r.origin, r.seq+1); err != nil {
				return err
			}
		}
	}
	if serr := wq.Manager.SoftStop(wq.Query); serr != nil && serr != lifecycle.AlreadyStopping {
		return serr
	}
	return nil
}

func feedWindowSource(ctx context.Context, wq *WindowQuery, src source.Source) feedResult {
	var r feedResult
	r.err = src.Run(ctx, func(buf *buffer.Buffer) error {
		r.origin = buf.Origin
		r.seq = buf.Sequence
		r.seen = true
		return wq.Manager.Submit(wq.Query, WindowBuildStage, buf)
	})
	return r
}

func (wq *WindowQuery) broadcastFlush(origin buffer.OriginID, startSeq uint64) error {
	for i := 0; i < wq.WorkerCount; i++ {
		buf, err := wq.Pool.Acquire()
		if err != nil {
			return err
		}
		buf.EndOfStream = true
		buf.Emit(startSeq+uint64(i), origin, buffer.WatermarkInfinite, 0)
		if err := wq.Manager.SubmitToWorker(wq.Query, WindowBuildStage, i, buf); err != nil {
			return err
		}
	}
	return nil
}

// awaitOriginDrained blocks until origin's own watermark has committed
// to the end-of-stream sentinel. Commit requires a contiguous prefix
// of observed sequence numbers, so by the time it's visible, every real
// buffer up to and including origin's end-of-stream one has already
// been executed by whichever worker it landed on — it's then safe to
// broadcast the per-worker flush without racing that worker's own
// still-in-flight fold.
func awaitOriginDrained(ctx context.Context, wm *watermark.Processor, origin buffer.OriginID) error {
	backoff := iox.Backoff{}
	for {
		if committed, ok := wm.OriginWatermark(origin); ok && committed == buffer.WatermarkInfinite {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		backoff.Wait()
	}
}

// Wait blocks until the query has fully stopped, returning its failure
// cause if it failed.
func (wq *WindowQuery) Wait() error {
	return wq.Manager.Wait(wq.Query)
}

// JoinQuery bundles the resources a streaming hash join query needs.
type JoinQuery struct {
	Manager     *lifecycle.Manager
	Query       *lifecycle.Query
	LeftPool    *buffer.Pool
	RightPool   *buffer.Pool
	Collector   *sink.JoinCollectorStage
	Watermark   *watermark.Processor
	WorkerCount int
}

// BuildJoinQuery wires a (LeftBuild, RightBuild) -> Probe -> Collector
// pipeline graph implementing one streaming equijoin, per spec.md §4.6.
// Both sides share one buffer pool and one watermark processor (their
// origins are disjoint, so the global watermark is their min, per
// spec.md §4.2), but each side feeds its own BuildStage instance.
func BuildJoinQuery(opts Options, def join.Definition, layout record.Layout) (*JoinQuery, error) {
	cfg := opts.Config
	pool := buffer.NewPool(buffer.Config{
		BufferSize:  cfg.PooledBufferSize,
		BufferCount: cfg.PooledBufferCount,
	})
	wmProc := watermark.NewProcessor(cfg.WatermarkLogCapacity)
	state := join.NewWindowState(cfg.PartitionCount, cfg.WorkerCount)

	leftBuild := &join.BuildStage{
		BaseStage:  pipeline.BaseStage{StageIDValue: JoinLeftBuildStage, DownstreamIDs: []pipeline.StageID{JoinProbeStage}},
		Side:       join.Left,
		Definition: def,
		Layout:     layout,
		Partitions: cfg.PartitionCount,
		PageSize:   256,
		Watermark:  wmProc,
		State:      state,
		ProbeStage: JoinProbeStage,
	}
	rightBuild := &join.BuildStage{
		BaseStage:  pipeline.BaseStage{StageIDValue: JoinRightBuildStage, DownstreamIDs: []pipeline.StageID{JoinProbeStage}},
		Side:       join.Right,
		Definition: def,
		Layout:     layout,
		Partitions: cfg.PartitionCount,
		PageSize:   256,
		Watermark:  wmProc,
		State:      state,
		ProbeStage: JoinProbeStage,
	}
	probe := &join.ProbeStage{
		BaseStage:  pipeline.BaseStage{StageIDValue: JoinProbeStage, DownstreamIDs: []pipeline.StageID{JoinSinkStage}},
		Definition: def,
		State:      state,
	}
	collector := &sink.JoinCollectorStage{
		BaseStage: pipeline.BaseStage{StageIDValue: JoinSinkStage},
	}

	g := &lifecycle.Graph{
		Stages:      []pipeline.Stage{leftBuild, rightBuild, probe, collector},
		Pool:        pool,
		Watermark:   wmProc,
		WorkerCount: cfg.WorkerCount,
		QueueCfg: queue.Config{
			WorkerCount:      cfg.WorkerCount,
			LocalQueueCap:    cfg.TaskQueueCapacity,
			OverflowQueueCap: cfg.TaskQueueCapacity,
		},
	}

	mgr := lifecycle.NewManager(opts.logger())
	q, err := mgr.Register(g)
	if err != nil {
		return nil, err
	}
	return &JoinQuery{Manager: mgr, Query: q, LeftPool: pool, RightPool: pool, Collector: collector, Watermark: wmProc, WorkerCount: cfg.WorkerCount}, nil
}

// Start runs every stage's Setup and starts the worker pool.
func (jq *JoinQuery) Start(ctx context.Context) error {
	return jq.Manager.Start(ctx, jq.Query)
}

// feedResult records one side's terminal (origin, sequence) so FeedBoth
// can broadcast that side's end-of-stream flush with the right
// sequence numbers once its source has finished.
type feedResult struct {
	origin buffer.OriginID
	seq    uint64
	seen   bool
	err    error
}

func feedSide(ctx context.Context, jq *JoinQuery, stage pipeline.StageID, src source.Source) feedResult {
	var r feedResult
	r.err = src.Run(ctx, func(buf *buffer.Buffer) error {
		r.origin = buf.Origin
		r.seq = buf.Sequence
		r.seen = true
		return jq.Manager.Submit(jq.Query, stage, buf)
	})
	return r
}

// FeedBoth drains left and right concurrently, submitting their buffers
// to the corresponding build stage. A join's two sides share one global
// watermark (the min of both origins' committed watermarks, per
// spec.md §4.2), so flushing one side as soon as its own origin commits
// isn't enough: the other side's later progress can still advance the
// shared global watermark past slices the first side already stopped
// checking. FeedBoth instead waits for BOTH origins to commit to
// infinity — at that point the shared global watermark is itself
// guaranteed infinite, so there's no later advance either side could
// ever miss — before broadcasting either side's end-of-stream flush.
func (jq *JoinQuery) FeedBoth(ctx context.Context, left, right source.Source) error {
	jq.Watermark.RegisterOrigin(left.Origin())
	jq.Watermark.RegisterOrigin(right.Origin())

	leftCh := make(chan feedResult, 1)
	rightCh := make(chan feedResult, 1)
	go func() { leftCh <- feedSide(ctx, jq, JoinLeftBuildStage, left) }()
	go func() { rightCh <- feedSide(ctx, jq, JoinRightBuildStage, right) }()

	leftResult := <-leftCh
	rightResult := <-rightCh
	if leftResult.err != nil {
		return leftResult.err
	}
	if rightResult.err != nil {
		return rightResult.err
	}

	if leftResult.seen {
		if err := awaitOriginDrained(ctx, jq.Watermark, leftResult.origin); err != nil {
			return err
		}
	}
	if rightResult.seen {
		if err := awaitOriginDrained(ctx, jq.Watermark, rightResult.origin); err != nil {
			return err
		}
	}
	if leftResult.seen {
		if err := jq.broadcastFlush(JoinLeftBuildStage, leftResult.origin, leftResult.seq+1); err != nil {
			return err
		}
	}
	if rightResult.seen {
		if err := jq.broadcastFlush(JoinRightBuildStage, rightResult.origin, rightResult.seq+1); err != nil {
			return err
		}
	}

	if serr := jq.Manager.SoftStop(jq.Query); serr != nil && serr != lifecycle.AlreadyStopping {
		return serr
	}
	return nil
}

func (jq *JoinQuery) broadcastFlush(stage pipeline.StageID, origin buffer.OriginID, startSeq uint64) error {
	for i := 0; i < jq.WorkerCount; i++ {
		buf, err := jq.LeftPool.Acquire()
		if err != nil {
			return err
		}
		buf.EndOfStream = true
		buf.Emit(startSeq+uint64(i), origin, buffer.WatermarkInfinite, 0)
		if err := jq.Manager.SubmitToWorker(jq.Query, stage, i, buf); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until the query has fully stopped, returning its failure
// cause if it failed.
func (jq *JoinQuery) Wait() error {
	return jq.Manager.Wait(jq.Query)
}
