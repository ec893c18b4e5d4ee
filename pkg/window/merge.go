package window

import (
	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/wire"
)

// MergeStage is the partition-merge kernel from spec.md §4.4: it
// receives a PartitionMergeTask dispatched once a global slice's
// partition has collected every worker's contribution, folds the
// contributed partials together with Aggregate.Merge, publishes the
// result to the MergedStore trigger reads from, and — if that slice is
// the last slice of one or more windows — dispatches a
// WindowAggregateTask per completed window.
type MergeStage struct {
	pipeline.BaseStage

	Definition   Definition
	Aggregate    Aggregate
	Global       *slicestore.GlobalStore[uint64]
	Merged       *MergedStore
	TriggerStage pipeline.StageID
}

func (s *MergeStage) Setup(ctx *pipeline.Context) error { return nil }

// Execute processes one PartitionMergeTask, read from buf's payload.
func (s *MergeStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	task := wire.DecodePartitionMergeTask(buf.Payload[:buf.Len()])
	idx := slicestore.Index(task.SliceIndex)
	partition := int(task.PartitionIndex)

	_, end := idx.Bounds(s.Definition.SliceSize)
	gs := s.Global.SliceFor(partition, idx, end)
	if !gs.TrySeal(partition) {
		// Already merged; a re-delivered task must not merge twice.
		return pipeline.StatusOk, nil
	}
	if !gs.Complete(partition) {
		return pipeline.StatusError, nebulaerr.New(nebulaerr.Internal, "window.merge",
			"merge task dispatched before partition reached its contribution count")
	}

	merged := make(map[uint64]uint64)
	for _, page := range gs.Contributions(partition) {
		if page == nil {
			continue
		}
		for _, e := range page.Entries {
			if acc, ok := merged[e.Key]; ok {
				merged[e.Key] = s.Aggregate.Merge(acc, e.Value)
			} else {
				merged[e.Key] = e.Value
			}
		}
	}
	s.Merged.Put(partition, idx, merged)
	s.Global.Drop(partition, idx)

	r, ok := s.Definition.CompletesAt(idx)
	if !ok {
		return pipeline.StatusOk, nil
	}
	if err := s.dispatchTrigger(ctx, w, partition, r); err != nil {
		return pipeline.StatusError, err
	}
	return pipeline.StatusOk, nil
}

func (s *MergeStage) dispatchTrigger(ctx *pipeline.Context, w *pipeline.WorkerContext, partition int, r Range) error {
	out, err := w.AcquireBuffer()
	if err != nil {
		return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "window.merge", err)
	}
	payload := wire.EncodeWindowAggregateTask(wire.WindowAggregateTask{
		PartitionIndex: uint64(partition),
		StartSlice:     uint64(r.Start),
		EndSlice:       uint64(r.End),
	})
	out.Payload = append(out.Payload[:0], payload...)
	out.TupleCount = 1
	out.SchemaSize = uint32(len(payload))
	return ctx.DispatchTo(s.TriggerStage, out)
}

func (s *MergeStage) Close(ctx *pipeline.Context) error { return nil }
