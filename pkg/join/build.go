package join

import (
	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/wire"
)

// BuildStage is one side (left or right) of the streaming hash join's
// build kernel from spec.md §4.6. It is structurally identical to
// pkg/window's BuildStage — the same thread-local-then-global slice
// handoff at the watermark boundary — but appends raw (key, value, ts)
// records to a page instead of folding them into a partial aggregate,
// since a join needs every record, not a reduction over them.
type BuildStage struct {
	pipeline.BaseStage

	Side        Side
	Definition  Definition
	Layout      record.Layout
	Partitions  int
	PageSize    int
	Watermark   *watermark.Processor
	State       *WindowState
	ProbeStage  pipeline.StageID

	locals []*slicestore.ThreadLocalStore[record.Tuple]
}

// Setup allocates one thread-local store per worker.
func (s *BuildStage) Setup(ctx *pipeline.Context) error {
	s.locals = make([]*slicestore.ThreadLocalStore[record.Tuple], ctx.WorkerCount)
	for i := range s.locals {
		s.locals[i] = slicestore.NewThreadLocalStore[record.Tuple](int64(s.Definition.SliceSize), s.Partitions, s.PageSize)
	}
	return nil
}

// Execute decodes buf's tuples, appends each to its owning worker's
// thread-local store, then advances the watermark and drains any
// slices that have fallen behind it.
func (s *BuildStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	local := s.locals[w.ID]
	payload := buf.Payload[:buf.Len()]
	count := s.Layout.Count(payload)
	s.Layout.Each(payload, count, func(t record.Tuple) {
		ls := local.SliceFor(t.TS)
		if ls == nil {
			return // late tuple: its slice already drained
		}
		p := slicestore.PartitionOf(t.Key, s.Partitions)
		ls.Partitions[p].Put(t.Key, t, s.PageSize)
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

// drainSlice contributes every partition of ls to its side's global
// store, including partitions with no buffered records: a side's
// global slice only reaches completion once exactly workerCount
// contributions have landed, so every worker owes a contribution per
// partition per slice it crosses regardless of whether it saw data.
func (s *BuildStage) drainSlice(ctx *pipeline.Context, w *pipeline.WorkerContext, ls *slicestore.LocalSlice[record.Tuple]) error {
	store := s.State.Left
	if s.Side == Right {
		store = s.State.Right
	}
	for p := 0; p < s.Partitions; p++ {
		pages := ls.Partitions[p].Drain()
		gs := store.SliceFor(p, ls.Index, ls.End)
		if gs.Contribute(p, pages) {
			if s.State.MarkSideComplete(p, ls.Index, s.Side) {
				if err := s.dispatchProbe(ctx, w, ls.Index, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *BuildStage) dispatchProbe(ctx *pipeline.Context, w *pipeline.WorkerContext, idx slicestore.Index, partition int) error {
	out, err := w.AcquireBuffer()
	if err != nil {
		return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "join.build", err)
	}
	start, end := idx.Bounds(s.Definition.SliceSize)
	payload := wire.EncodeJoinProbeTask(wire.JoinProbeTask{
		WindowStart:    uint64(start),
		WindowEnd:      uint64(end),
		PartitionIndex: uint64(partition),
		LeftSliceID:    uint64(idx),
		RightSliceID:   uint64(idx),
	})
	out.Payload = append(out.Payload[:0], payload...)
	out.TupleCount = 1
	out.SchemaSize = uint32(len(payload))
	return ctx.DispatchTo(s.ProbeStage, out)
}

// Close is a no-op: the thread-local stores hold no external resources.
func (s *BuildStage) Close(ctx *pipeline.Context) error { return nil }
