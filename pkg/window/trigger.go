package window

import (
	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/wire"
)

// TriggerStage is the window-emission kernel from spec.md §4.5: it
// receives a WindowAggregateTask naming a completed window's slice
// range, folds that range's merged partials into the window's final
// per-key result, and emits it downstream as (key, value, windowEnd)
// tuples using the same fixed-width layout the rest of the engine
// reads and writes.
type TriggerStage struct {
	pipeline.BaseStage

	Definition Definition
	Aggregate  Aggregate
	Layout     record.Layout
	Merged     *MergedStore
}

func (s *TriggerStage) Setup(ctx *pipeline.Context) error { return nil }

// Execute processes one WindowAggregateTask, read from buf's payload.
func (s *TriggerStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	task := wire.DecodeWindowAggregateTask(buf.Payload[:buf.Len()])
	partition := int(task.PartitionIndex)
	r := Range{Start: slicestore.Index(task.StartSlice), End: slicestore.Index(task.EndSlice)}

	result := s.Merged.Consume(partition, r, s.Aggregate)
	if len(result) == 0 {
		return pipeline.StatusOk, nil
	}
	windowEnd := s.Definition.WindowEnd(r)

	if err := s.emitResult(ctx, w, result, windowEnd); err != nil {
		return pipeline.StatusError, err
	}
	return pipeline.StatusOk, nil
}

// emitResult writes result as (key, value, windowEnd) tuples into
// output buffers sized by the layout's pool capacity, chunking across
// as many buffers as needed so a wide window never blocks waiting for
// one oversized allocation.
func (s *TriggerStage) emitResult(ctx *pipeline.Context, w *pipeline.WorkerContext, result map[uint64]uint64, windowEnd int64) error {
	out, err := w.AcquireBuffer()
	if err != nil {
		return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "window.trigger", err)
	}
	perBuffer := len(out.Payload) / s.Layout.Size
	if perBuffer == 0 {
		out.Release()
		return nebulaerr.New(nebulaerr.Internal, "window.trigger", "buffer smaller than one output tuple")
	}

	i := 0
	for key, value := range result {
		if i > 0 && i%perBuffer == 0 {
			out.TupleCount = uint32(perBuffer)
			out.SchemaSize = uint32(s.Layout.Size)
			out.Watermark = windowEnd
			if err := ctx.Dispatch(out); err != nil {
				return err
			}
			out, err = w.AcquireBuffer()
			if err != nil {
				return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "window.trigger", err)
			}
		}
		s.Layout.Put(out.Payload, i%perBuffer, record.Tuple{Key: key, Value: value, TS: windowEnd})
		i++
	}
	out.TupleCount = uint32(i % perBuffer)
	if out.TupleCount == 0 && i > 0 {
		out.TupleCount = uint32(perBuffer)
	}
	out.SchemaSize = uint32(s.Layout.Size)
	out.Watermark = windowEnd
	return ctx.Dispatch(out)
}

func (s *TriggerStage) Close(ctx *pipeline.Context) error { return nil }
