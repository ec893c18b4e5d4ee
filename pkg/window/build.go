package window

import (
	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/wire"
)

// BuildStage is the windowed aggregation engine's build kernel from
// spec.md §4.3: it folds every tuple in an input buffer into its
// worker's thread-local pre-aggregation store, advances the
// multi-origin watermark, and — once a slice falls behind the
// watermark minus the allowed lateness — hands each of its partitions
// to the global slice store. The worker whose contribution completes a
// partition (the W-th) dispatches a PartitionMergeTask.
type BuildStage struct {
	pipeline.BaseStage

	Definition Definition
	Aggregate  Aggregate
	Layout     record.Layout
	Partitions int
	Watermark  *watermark.Processor
	Global     *slicestore.GlobalStore[uint64]
	MergeStage pipeline.StageID

	locals []*LocalAggregates
}

// Setup allocates one pre-aggregation ring per worker.
func (s *BuildStage) Setup(ctx *pipeline.Context) error {
	s.locals = make([]*LocalAggregates, ctx.WorkerCount)
	for i := range s.locals {
		s.locals[i] = NewLocalAggregates(s.Aggregate, s.Definition.SliceSize, s.Partitions)
	}
	return nil
}

// Execute decodes buf's tuples, folds them into the calling worker's
// thread-local store, then advances the watermark and drains any
// slices that have fallen behind it.
func (s *BuildStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	local := s.locals[w.ID]
	payload := buf.Payload[:buf.Len()]
	count := s.Layout.Count(payload)
	s.Layout.Each(payload, count, func(t record.Tuple) {
		local.Add(t.TS, t.Key, t.Value)
	})

	_, newGlobal, err := s.Watermark.Observe(buf.Origin, buf.Sequence, buf.Watermark)
	if err != nil {
		return pipeline.StatusError, err
	}
	// Compared against this worker's own bookmark, not the processor's
	// global prevGlobal: the global watermark can have already advanced
	// via a different worker's call, and this worker still owes a drain
	// of whatever local state fell behind it.
	if newGlobal <= local.LastWatermark() {
		return pipeline.StatusOk, nil
	}

	threshold := newGlobal - int64(s.Definition.AllowedLateness)
	for _, ls := range local.DrainUpTo(threshold) {
		if err := s.drainSlice(ctx, w, ls); err != nil {
			return pipeline.StatusError, err
		}
	}
	local.SetLastWatermark(newGlobal)
	return pipeline.StatusOk, nil
}

// drainSlice contributes every partition of ls to the global store,
// including partitions this worker never folded a key into: the
// global slice only becomes complete once exactly workerCount
// contributions have landed, so every worker owes one contribution per
// partition per slice it crosses, empty or not.
func (s *BuildStage) drainSlice(ctx *pipeline.Context, w *pipeline.WorkerContext, ls *localSlice) error {
	for p := 0; p < s.Partitions; p++ {
		page := ls.drainPartition(p)
		gs := s.Global.SliceFor(p, ls.index, ls.end)
		if gs.Contribute(p, []*slicestore.Page[uint64]{page}) {
			if err := s.dispatchMerge(ctx, w, ls.index, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *BuildStage) dispatchMerge(ctx *pipeline.Context, w *pipeline.WorkerContext, idx slicestore.Index, partition int) error {
	out, err := w.AcquireBuffer()
	if err != nil {
		return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "window.build", err)
	}
	payload := wire.EncodePartitionMergeTask(wire.PartitionMergeTask{
		SliceIndex:     uint64(idx),
		PartitionIndex: uint64(partition),
	})
	out.Payload = append(out.Payload[:0], payload...)
	out.TupleCount = 1
	out.SchemaSize = uint32(len(payload))
	return ctx.DispatchTo(s.MergeStage, out)
}

// Close is a no-op: the thread-local stores hold no external resources.
func (s *BuildStage) Close(ctx *pipeline.Context) error { return nil }
