// Package sink implements the Sink boundary from spec.md §6: the
// terminal stage of a pipeline graph, with no downstreams, plus a
// reference in-memory implementation used by tests and local
// development.
package sink

import (
	"sync"

	"github.com/nebulastream/nebula-core/internal/pipeline"
	"github.com/nebulastream/nebula-core/pkg/buffer"
	"github.com/nebulastream/nebula-core/pkg/join"
	"github.com/nebulastream/nebula-core/pkg/record"
)

// CollectorStage is a terminal Stage that decodes every tuple it
// receives under Layout and appends it to an in-memory, mutex-guarded
// slice. Production egress adapters implement pipeline.Stage directly
// against a real transport instead.
type CollectorStage struct {
	pipeline.BaseStage

	Layout record.Layout

	mu      sync.Mutex
	tuples  []record.Tuple
	eosSeen bool
}

// Setup is a no-op: the collector holds no external resources.
func (c *CollectorStage) Setup(ctx *pipeline.Context) error { return nil }

// Execute decodes buf's tuples and appends them to the collected result.
func (c *CollectorStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	if c.Layout.Size == 0 {
		c.Layout = record.DefaultLayout
	}
	payload := buf.Payload[:buf.Len()]
	count := c.Layout.Count(payload)

	c.mu.Lock()
	c.Layout.Each(payload, count, func(t record.Tuple) {
		c.tuples = append(c.tuples, t)
	})
	if buf.EndOfStream {
		c.eosSeen = true
	}
	c.mu.Unlock()
	return pipeline.StatusOk, nil
}

// Close is a no-op.
func (c *CollectorStage) Close(ctx *pipeline.Context) error { return nil }

// Tuples returns a snapshot of every tuple collected so far.
func (c *CollectorStage) Tuples() []record.Tuple {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]record.Tuple, len(c.tuples))
	copy(out, c.tuples)
	return out
}

// EndOfStreamSeen reports whether a buffer with EndOfStream set has
// reached this collector.
func (c *CollectorStage) EndOfStreamSeen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eosSeen
}

// JoinCollectorStage is CollectorStage's counterpart for a join probe
// stage's output, whose wider (key, left value, right value, ts)
// tuples don't fit record.Layout's three-field shape.
type JoinCollectorStage struct {
	pipeline.BaseStage

	mu     sync.Mutex
	tuples []join.OutputTuple
}

// Setup is a no-op.
func (c *JoinCollectorStage) Setup(ctx *pipeline.Context) error { return nil }

// Execute decodes buf's joined tuples and appends them to the result.
func (c *JoinCollectorStage) Execute(buf *buffer.Buffer, ctx *pipeline.Context, w *pipeline.WorkerContext) (pipeline.Status, error) {
	payload := buf.Payload[:buf.Len()]
	count := join.Count(payload)

	c.mu.Lock()
	for i := 0; i < count; i++ {
		c.tuples = append(c.tuples, join.DecodeOutputTuple(payload, i))
	}
	c.mu.Unlock()
	return pipeline.StatusOk, nil
}

// Close is a no-op.
func (c *JoinCollectorStage) Close(ctx *pipeline.Context) error { return nil }

// Tuples returns a snapshot of every joined tuple collected so far.
func (c *JoinCollectorStage) Tuples() []join.OutputTuple {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]join.OutputTuple, len(c.tuples))
	copy(out, c.tuples)
	return out
}
