package join

import (
	"encoding/binary"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
	"github.com/nebulastream/nebula-core/pkg/wire"
)

// OutputTupleSize is the fixed-width layout of one joined tuple: join
// key, left value, right value, each a little-endian uint64, followed
// by the window-end timestamp.
const OutputTupleSize = 32

// OutputTuple is one decoded join result.
type OutputTuple struct {
	Key        uint64
	LeftValue  uint64
	RightValue uint64
	TS         int64
}

func putOutputTuple(payload []byte, i int, t OutputTuple) {
	base := i * OutputTupleSize
	binary.LittleEndian.PutUint64(payload[base:base+8], t.Key)
	binary.LittleEndian.PutUint64(payload[base+8:base+16], t.LeftValue)
	binary.LittleEndian.PutUint64(payload[base+16:base+24], t.RightValue)
	binary.LittleEndian.PutUint64(payload[base+24:base+32], uint64(t.TS))
}

// DecodeOutputTuple decodes the i-th joined tuple from payload, for
// downstream consumers (sinks, tests) reading a probe stage's output.
func DecodeOutputTuple(payload []byte, i int) OutputTuple {
	base := i * OutputTupleSize
	return OutputTuple{
		Key:        binary.LittleEndian.Uint64(payload[base : base+8]),
		LeftValue:  binary.LittleEndian.Uint64(payload[base+8 : base+16]),
		RightValue: binary.LittleEndian.Uint64(payload[base+16 : base+24]),
		TS:         int64(binary.LittleEndian.Uint64(payload[base+24 : base+32])),
	}
}

// Count returns how many fixed-width joined tuples payload holds.
func Count(payload []byte) int {
	return len(payload) / OutputTupleSize
}

// ProbeStage is the equijoin kernel from spec.md §4.6: once both sides
// of a (partition, slice) pair have completed, it scans the left
// side's contributed pages in order and, for each record, emits one
// output tuple per matching right-side record, in right-insertion
// order — the ordering guarantee spec.md §8 tests for.
type ProbeStage struct {
	pipeline.BaseStage

	Definition Definition
	State      *WindowState
}

func (s *ProbeStage) Setup(ctx *pipeline.Context) error { return nil }

// Execute processes one JoinProbeTask, read from buf's payload.
func (s *ProbeStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	task := wire.DecodeJoinProbeTask(buf.Payload[:buf.Len()])
	partition := int(task.PartitionIndex)
	idx := slicestore.Index(task.LeftSliceID)

	leftGS := s.State.Left.SliceFor(partition, idx, int64(task.WindowEnd))
	rightGS := s.State.Right.SliceFor(partition, idx, int64(task.WindowEnd))

	rightIndex := make(map[uint64][]record.Tuple)
	for _, pg := range rightGS.Contributions(partition) {
		for _, e := range pg.Entries {
			rightIndex[e.Key] = append(rightIndex[e.Key], e.Value)
		}
	}

	var out []OutputTuple
	for _, pg := range leftGS.Contributions(partition) {
		for _, e := range pg.Entries {
			for _, rv := range rightIndex[e.Key] {
				out = append(out, OutputTuple{
					Key:        e.Key,
					LeftValue:  e.Value.Value,
					RightValue: rv.Value,
					TS:         int64(task.WindowEnd),
				})
			}
		}
	}

	s.State.Left.Drop(partition, idx)
	s.State.Right.Drop(partition, idx)
	s.State.DropPair(partition, idx)

	if len(out) == 0 {
		return pipeline.StatusOk, nil
	}
	if err := s.emit(ctx, w, out); err != nil {
		return pipeline.StatusError, err
	}
	return pipeline.StatusOk, nil
}

func (s *ProbeStage) emit(ctx *pipeline.Context, w *pipeline.WorkerContext, out []OutputTuple) error {
	buf, err := w.AcquireBuffer()
	if err != nil {
		return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "join.probe", err)
	}
	perBuffer := len(buf.Payload) / OutputTupleSize
	if perBuffer == 0 {
		buf.Release()
		return nebulaerr.New(nebulaerr.Internal, "join.probe", "buffer smaller than one output tuple")
	}

	written := 0
	for _, t := range out {
		if written > 0 && written%perBuffer == 0 {
			buf.TupleCount = uint32(perBuffer)
			buf.SchemaSize = uint32(OutputTupleSize)
			buf.Watermark = t.TS
			if err := ctx.Dispatch(buf); err != nil {
				return err
			}
			buf, err = w.AcquireBuffer()
			if err != nil {
				return nebulaerr.Wrap(nebulaerr.ResourceExhausted, "join.probe", err)
			}
		}
		putOutputTuple(buf.Payload, written%perBuffer, t)
		written++
	}
	remainder := written % perBuffer
	if remainder == 0 {
		remainder = perBuffer
	}
	buf.TupleCount = uint32(remainder)
	buf.SchemaSize = uint32(OutputTupleSize)
	buf.Watermark = out[len(out)-1].TS
	return ctx.Dispatch(buf)
}

func (s *ProbeStage) Close(ctx *pipeline.Context) error { return nil }
