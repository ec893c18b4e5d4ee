// Package buffer implements the tuple buffer and buffer pool described
// in spec.md §3 and §4.1: a fixed-capacity, reference-counted block of
// raw bytes carrying a sequence number, origin id, watermark, creation
// timestamp, and tuple count, owned by a pool.
package buffer

import (
	"math"
	"time"

	"code.hybscloud.com/atomix"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
)

// OriginID identifies an independent input stream. Each origin owns
// its own sequence-number space.
type OriginID uint64

// WatermarkInfinite is the watermark value a source stamps on its
// end-of-stream buffer: no future event will ever invalidate it.
const WatermarkInfinite = int64(math.MaxInt64)

// Buffer is the unit of data and control flow in the runtime. A
// Buffer's payload holds either tuples (schema-encoded records) or a
// task descriptor (PartitionMergeTask, WindowAggregateTask,
// JoinProbeTask — see pkg/wire), distinguished by the stage that reads
// it, never by a tag on the buffer itself.
//
// Invariants (spec.md §4.1):
//   - at most one producer writes the payload between Acquire and Emit
//   - TupleCount, Watermark, and Sequence are final once emitted
//   - once released to zero refs, the payload is undefined until reuse
type Buffer struct {
	Payload    []byte
	SchemaSize uint32
	TupleCount uint32
	Sequence   uint64
	Origin     OriginID
	Watermark  int64
	CreatedAt  time.Time
	Chunk      uint32
	EndOfStream bool

	pool   *Pool
	slot   uint32 // pool slot index, valid only for pooled buffers
	pooled bool
	refs   atomix.Int32
}

// Emit finalizes metadata before the buffer is handed to the task
// queue. It is the happens-before edge a consumer may rely on: fields
// written before Emit are visible after a consumer observes the
// buffer via the task queue.
func (b *Buffer) Emit(seq uint64, origin OriginID, watermark int64, tupleCount uint32) {
	b.Sequence = seq
	b.Origin = origin
	b.Watermark = watermark
	b.TupleCount = tupleCount
}

// Retain increments the buffer's reference count. Call before handing
// the same buffer to more than one downstream consumer (e.g. a
// fan-out stage).
func (b *Buffer) Retain() {
	b.refs.AddAcqRel(1)
}

// Release decrements the reference count. The last Release recycles a
// pooled buffer back to its pool; an unpooled buffer is left for the
// garbage collector.
func (b *Buffer) Release() {
	remaining := b.refs.AddAcqRel(-1)
	if remaining > 0 {
		return
	}
	if remaining < 0 {
		panic("buffer: released more times than acquired")
	}
	if b.pool == nil {
		return
	}
	if b.pooled {
		b.pool.recycle(b)
	} else {
		b.pool.releaseUnpooled(len(b.Payload))
	}
}

// Len returns the number of payload bytes currently meaningful, i.e.
// TupleCount*SchemaSize, guarding the invariant tuple_count*schema_size
// <= capacity.
func (b *Buffer) Len() int {
	return int(b.TupleCount) * int(b.SchemaSize)
}

// Validate checks the two structural invariants from spec.md §3 that
// every buffer must satisfy once its metadata is finalized.
func (b *Buffer) Validate() error {
	if uint64(b.TupleCount)*uint64(b.SchemaSize) > uint64(len(b.Payload)) {
		return nebulaerr.New(nebulaerr.Internal, "buffer", "tuple_count*schema_size exceeds capacity")
	}
	if b.Watermark != WatermarkInfinite && b.Watermark > b.CreatedAt.UnixNano() {
		return nebulaerr.New(nebulaerr.Internal, "buffer", "watermark exceeds creation timestamp")
	}
	return nil
}
