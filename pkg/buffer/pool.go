package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
)

// Pool allocates and recycles tuple buffers, distinguishing pooled
// (fixed size) from unpooled (variable size) allocation per spec.md
// §4.1. The pooled free-list is the teacher's lock-free MPMC queue,
// carrying slot indices rather than the buffers themselves so that
// recycling never touches the buffer's backing array.
type Pool struct {
	slots    []Buffer
	storage  [][]byte
	freeList *lfq.MPMC[uint32]

	unpooledMu     sync.Mutex
	unpooledBudget int64 // remaining bytes budget for acquire_unpooled
	unpooledUsed   int64

	acquireWaitBudget time.Duration
}

// Config bounds a Pool's capacity.
type Config struct {
	// BufferSize is the fixed payload capacity of each pooled buffer.
	BufferSize int
	// BufferCount is the number of pooled buffers pre-allocated.
	BufferCount int
	// UnpooledBudget caps total bytes outstanding via AcquireUnpooled.
	// Zero means unbounded.
	UnpooledBudget int64
	// AcquireWaitBudget bounds how long the blocking Acquire() spins
	// with backoff before giving up and returning ResourceExhausted.
	// Zero means Acquire() waits until a buffer becomes free, with no
	// time limit.
	AcquireWaitBudget time.Duration
}

// NewPool pre-allocates cfg.BufferCount buffers of cfg.BufferSize bytes
// and seeds the free-list with every slot index.
func NewPool(cfg Config) *Pool {
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	p := &Pool{
		slots:             make([]Buffer, cfg.BufferCount),
		storage:           make([][]byte, cfg.BufferCount),
		freeList:          lfq.NewMPMC[uint32](cfg.BufferCount),
		unpooledBudget:    cfg.UnpooledBudget,
		acquireWaitBudget: cfg.AcquireWaitBudget,
	}
	for i := range p.slots {
		p.storage[i] = make([]byte, cfg.BufferSize)
		idx := uint32(i)
		if err := p.freeList.Enqueue(&idx); err != nil {
			panic("buffer: free-list smaller than buffer count")
		}
	}
	return p
}

// Acquire returns a pooled buffer, blocking (with bounded backoff)
// until one is free. A producer that gives up must not have partially
// emitted anything — on giving up, the caller receives a nil buffer and
// the error.
func (p *Pool) Acquire() (*Buffer, error) {
	backoff := iox.Backoff{}
	deadline := time.Time{}
	if p.acquireWaitBudget > 0 {
		deadline = time.Now().Add(p.acquireWaitBudget)
	}
	for {
		var idx uint32
		var err error
		idx, err = p.freeList.Dequeue()
		if err == nil {
			buf := &p.slots[idx]
			*buf = Buffer{
				Payload: p.storage[idx],
				pool:    p,
				slot:    idx,
				pooled:  true,
			}
			buf.refs.StoreRelaxed(1)
			return buf, nil
		}
		if !iox.IsWouldBlock(err) {
			return nil, nebulaerr.Wrap(nebulaerr.Internal, "bufferpool", err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, nebulaerr.New(nebulaerr.ResourceExhausted, "bufferpool", "acquire timed out: pool exhausted")
		}
		backoff.Wait()
	}
}

// AcquireUnpooled returns a buffer of at least n bytes from a
// variable-size allocation path guarded by a mutex (spec.md §4.1: a
// mutex for unpooled allocation, vs. the lock-free free-list for
// pooled buffers). Fails with ResourceExhausted, never blocks.
func (p *Pool) AcquireUnpooled(n int) (*Buffer, error) {
	p.unpooledMu.Lock()
	if p.unpooledBudget > 0 && p.unpooledUsed+int64(n) > p.unpooledBudget {
		p.unpooledMu.Unlock()
		return nil, nebulaerr.New(nebulaerr.ResourceExhausted, "bufferpool", "unpooled budget exhausted")
	}
	p.unpooledUsed += int64(n)
	p.unpooledMu.Unlock()

	buf := &Buffer{
		Payload: make([]byte, n),
		pool:    p,
		pooled:  false,
	}
	buf.refs.StoreRelaxed(1)
	return buf, nil
}

// releaseUnpooled returns n bytes to the unpooled budget. Called only
// from Buffer.Release for buffers acquired via AcquireUnpooled.
func (p *Pool) releaseUnpooled(n int) {
	p.unpooledMu.Lock()
	p.unpooledUsed -= int64(n)
	p.unpooledMu.Unlock()
}

// recycle returns a pooled buffer's slot to the free-list. Called only
// from Buffer.Release when the reference count reaches zero.
func (p *Pool) recycle(b *Buffer) {
	idx := b.slot
	// Payload content is now undefined per spec.md §4.1; clear the
	// metadata so a stale Buffer reference can't be mistaken for live.
	*b = Buffer{}
	slotIdx := idx
	for {
		if err := p.freeList.Enqueue(&slotIdx); err == nil {
			return
		}
		// The free-list can only be "full" if more slots were
		// recycled than exist, which is an invariant violation.
		panic("buffer: recycled more buffers than pool capacity")
	}
}

// Outstanding reports the number of unpooled bytes currently acquired
// and not yet released, for metrics/debugging only.
func (p *Pool) Outstanding() int64 {
	return atomic.LoadInt64(&p.unpooledUsed)
}
