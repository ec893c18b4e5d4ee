// Package source implements the Source boundary from spec.md §6: the
// interface an ingestion adapter must satisfy to feed buffers into a
// query's first stage, plus a reference in-memory implementation used
// by tests and local development.
package source

import (
	"context"

	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/record"
)

// Source produces buffers for one origin until ctx is cancelled or the
// source has no more data, at which point it must emit a final buffer
// with EndOfStream set and Watermark == buffer.WatermarkInfinite.
type Source interface {
	// Origin identifies the independent sequence-number space this
	// source owns.
	Origin() buffer.OriginID
	// Run drives the source, calling emit for every buffer it produces.
	// Run returns when the source is exhausted or ctx is cancelled.
	Run(ctx context.Context, emit func(*buffer.Buffer) error) error
}

// Tuple is one input record a FeedSource replays.
type Tuple = record.Tuple

// FeedSource is an in-memory Source that replays a fixed slice of
// tuples through a buffer.Pool, chunked to the pool's buffer capacity,
// stamping a watermark after every chunk. It exists for tests and local
// development; production ingestion adapters implement Source directly
// against a real transport.
type FeedSource struct {
	origin    buffer.OriginID
	pool      *buffer.Pool
	layout    record.Layout
	tuples    []Tuple
	watermark func(chunkMaxTS int64) int64
}

// NewFeedSource builds a source that replays tuples (already sorted by
// event time by the caller) through pool. watermarkFn computes the
// watermark to stamp after a chunk given that chunk's maximum
// timestamp; a common choice is an identity function (no generated
// lateness) or one that subtracts a fixed bounded-out-of-orderness.
func NewFeedSource(origin buffer.OriginID, pool *buffer.Pool, layout record.Layout, tuples []Tuple, watermarkFn func(int64) int64) *FeedSource {
	if watermarkFn == nil {
		watermarkFn = func(ts int64) int64 { return ts }
	}
	return &FeedSource{origin: origin, pool: pool, layout: layout, tuples: tuples, watermark: watermarkFn}
}

func (f *FeedSource) Origin() buffer.OriginID { return f.origin }

// Run chunks f.tuples into pool-sized buffers and calls emit for each,
// finishing with an end-of-stream buffer.
func (f *FeedSource) Run(ctx context.Context, emit func(*buffer.Buffer) error) error {
	var seq uint64
	i := 0
	for i < len(f.tuples) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		buf, err := f.pool.Acquire()
		if err != nil {
			return err
		}
		perBuffer := len(buf.Payload) / f.layout.Size
		if perBuffer == 0 {
			buf.Release()
			return ctx.Err()
		}
		n := perBuffer
		if remaining := len(f.tuples) - i; remaining < n {
			n = remaining
		}
		var maxTS int64
		for j := 0; j < n; j++ {
			t := f.tuples[i+j]
			f.layout.Put(buf.Payload, j, t)
			if t.TS > maxTS {
				maxTS = t.TS
			}
		}
		buf.SchemaSize = uint32(f.layout.Size)
		buf.Emit(seq, f.origin, f.watermark(maxTS), uint32(n))
		seq++
		i += n
		if err := emit(buf); err != nil {
			return err
		}
	}

	eos, err := f.pool.Acquire()
	if err != nil {
		return err
	}
	eos.SchemaSize = uint32(f.layout.Size)
	eos.EndOfStream = true
	eos.Emit(seq, f.origin, buffer.WatermarkInfinite, 0)
	return emit(eos)
}
